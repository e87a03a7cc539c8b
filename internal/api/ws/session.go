package ws

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/dom"
	"github.com/canfeed/backend/internal/logging"
	"github.com/canfeed/backend/internal/monitoring"
	"github.com/canfeed/backend/internal/proxy"
	"github.com/canfeed/backend/internal/tracker"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// Handler upgrades tracking connections and runs one session per
// connection.
type Handler struct {
	upgrader websocket.Upgrader
	rewriter *proxy.Rewriter
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates the tracking websocket handler.
func NewHandler(rewriter *proxy.Rewriter, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The workspace host is same-origin; the proxy route is the
			// only cross-origin surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rewriter: rewriter,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register mounts the tracking route.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/api/track", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	if h.metrics != nil {
		h.metrics.TrackingSessions.Inc()
		defer h.metrics.TrackingSessions.Dec()
	}

	session := newSession(conn, h.rewriter, h.logger)
	session.run()
}

// session owns one tracking connection: a document mirror, a tracker
// driving it, and a single writer goroutine serializing outbound
// frames.
type session struct {
	conn     *websocket.Conn
	rewriter *proxy.Rewriter
	logger   *logging.Logger
	doc      *dom.Document
	tracker  *tracker.Tracker
	send     chan []byte
	closed   chan struct{}
}

func newSession(conn *websocket.Conn, rewriter *proxy.Rewriter, logger *logging.Logger) *session {
	s := &session{
		conn:     conn,
		rewriter: rewriter,
		logger:   logger,
		doc:      dom.New(),
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}
	s.tracker = tracker.New(tracker.NewTickerScheduler(0), s.publishSnapshot)
	return s
}

func (s *session) run() {
	go s.writeLoop()
	s.readLoop()

	// Synchronous teardown: after Detach returns the tracker publishes
	// nothing more, so closing the send path is safe.
	s.tracker.Detach()
	close(s.closed)
	s.conn.Close()
}

func (s *session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("tracking connection dropped", zap.Error(err))
			}
			return
		}

		env, err := Decode(raw)
		if err != nil {
			s.sendError(err.Error())
			continue
		}
		s.dispatch(env)
	}
}

func (s *session) dispatch(env *Envelope) {
	switch env.Type {
	case MsgAttach:
		var p AttachPayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		if err := s.doc.LoadSnapshot(p.Markup); err != nil {
			s.sendError("failed to parse snapshot: " + err.Error())
			return
		}
		s.doc.SetViewport(p.Viewport)
		s.tracker.Attach(s.doc)

	case MsgDetach:
		s.tracker.Detach()
		s.doc.Clear()

	case MsgGeometry:
		var p GeometryPayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		rects := make(map[int]dom.Rect, len(p.Rects))
		for _, entry := range p.Rects {
			rects[entry.Index] = entry.Rect
		}
		s.doc.UpdateGeometry(rects)
		s.doc.SetScroll(p.ScrollY)

	case MsgScroll:
		var p ScrollPayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		s.doc.SetScroll(p.Y)

	case MsgViewport:
		var p dom.Size
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		s.doc.SetViewport(p)

	case MsgAnchors:
		var p AnchorsPayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		s.tracker.SetAnchors(ToAnchors(p))

	case MsgFocus:
		var p FocusPayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		s.tracker.Focus(p.ID)

	case MsgPlace:
		var p PlacePayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		placement, ok := s.tracker.Place(p.X, p.Y)
		if !ok {
			s.sendError("no element at placement point")
			return
		}
		s.sendMessage(MsgPlacement, PlacementResult{
			Selector:  placement.Selector,
			RelativeX: placement.RelativeX,
			RelativeY: placement.RelativeY,
			Bounds:    placement.Bounds,
		})

	case MsgCancelPlacement:
		s.tracker.CancelPlacement()

	case MsgNavigate:
		var p NavigatePayload
		if err := DecodePayload(env, &p); err != nil {
			s.sendError(err.Error())
			return
		}
		s.navigate(p.URL)

	default:
		// Unknown message types are ignored so the protocol can grow
		// without breaking older servers.
	}
}

// navigate answers an intercepted navigation with the proxied URL the
// host should load next, and invalidates the current mirror.
func (s *session) navigate(raw string) {
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		s.sendError("navigate URL must be absolute")
		return
	}

	ctx := s.rewriter.NewContext(target, "")
	proxied, ok := s.rewriter.Proxy(ctx, target.String())
	if !ok {
		s.sendError("navigate URL is not proxyable")
		return
	}

	s.tracker.Detach()
	s.doc.Clear()
	s.sendMessage(MsgNavigate, NavigateResult{URL: target.String(), ProxyURL: proxied})
}

func (s *session) publishSnapshot(snap tracker.Snapshot) {
	s.sendMessage(MsgPositions, snap)
}

func (s *session) sendMessage(msgType string, payload interface{}) {
	raw, err := Encode(msgType, payload)
	if err != nil {
		s.logger.Error("failed to encode outbound message",
			zap.String("type", msgType), zap.Error(err))
		return
	}

	select {
	case s.send <- raw:
	case <-s.closed:
	default:
		// A slow host drops frames rather than stalling the tracker.
	}
}

func (s *session) sendError(message string) {
	s.sendMessage(MsgError, ErrorPayload{Message: message})
}

func (s *session) writeLoop() {
	for {
		select {
		case raw := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
