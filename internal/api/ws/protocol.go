// Package ws carries the live tracking link between the workspace host
// and the server-side document mirror: the host streams snapshots,
// geometry and interaction events in, the server streams overlay
// positions back.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/canfeed/backend/internal/dom"
	"github.com/canfeed/backend/internal/tracker"
)

// Inbound message types (host to server).
const (
	MsgAttach          = "attach"
	MsgDetach          = "detach"
	MsgGeometry        = "geometry"
	MsgScroll          = "scroll"
	MsgViewport        = "viewport"
	MsgAnchors         = "anchors"
	MsgFocus           = "focus"
	MsgPlace           = "place"
	MsgCancelPlacement = "cancel_place"
	MsgNavigate        = "navigate"
)

// Outbound message types (server to host).
const (
	MsgPositions = "positions"
	MsgPlacement = "placement"
	MsgError     = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AttachPayload binds the session to a page: its URL, a markup
// snapshot, and the embedded viewport.
type AttachPayload struct {
	URL      string   `json:"url"`
	Markup   string   `json:"markup"`
	Viewport dom.Size `json:"viewport"`
}

// GeometryEntry reports one element's bounding box, keyed by its
// preorder index in the attached snapshot.
type GeometryEntry struct {
	Index int      `json:"i"`
	Rect  dom.Rect `json:"r"`
}

// GeometryPayload carries a batch of bounding boxes plus the scroll
// offset they were measured at.
type GeometryPayload struct {
	Rects   []GeometryEntry `json:"rects"`
	ScrollY float64         `json:"scrollY"`
}

// ScrollPayload reports a scroll offset change.
type ScrollPayload struct {
	Y float64 `json:"y"`
}

// AnchorPayload is one annotation anchor to track.
type AnchorPayload struct {
	ID          string  `json:"id"`
	Selector    string  `json:"selector"`
	RelativeX   float64 `json:"relativeX"`
	RelativeY   float64 `json:"relativeY"`
	DeviceWidth int     `json:"deviceWidth"`
}

// AnchorsPayload replaces the tracked anchor set.
type AnchorsPayload struct {
	Anchors []AnchorPayload `json:"anchors"`
}

// FocusPayload highlights one anchor's element; empty clears it.
type FocusPayload struct {
	ID string `json:"id"`
}

// PlacePayload is a placement click in document coordinates.
type PlacePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NavigatePayload reports an intercepted in-page navigation.
type NavigatePayload struct {
	URL string `json:"url"`
}

// PlacementResult answers a place message with anchoring data.
type PlacementResult struct {
	Selector  string   `json:"selector"`
	RelativeX float64  `json:"relativeX"`
	RelativeY float64  `json:"relativeY"`
	Bounds    dom.Rect `json:"bounds"`
}

// NavigateResult tells the host where to point the frame next.
type NavigateResult struct {
	URL      string `json:"url"`
	ProxyURL string `json:"proxyUrl"`
}

// ErrorPayload reports a recoverable session error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode frames a payload into a wire message.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		data = raw
	}
	return sonic.Marshal(Envelope{Type: msgType, Data: data})
}

// Decode unwraps a wire message into its envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &env, nil
}

// DecodePayload decodes an envelope's data into payload.
func DecodePayload(env *Envelope, payload interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s message has no payload", env.Type)
	}
	if err := sonic.Unmarshal(env.Data, payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return nil
}

// ToAnchors converts wire anchors to tracker anchors.
func ToAnchors(payload AnchorsPayload) []tracker.Anchor {
	out := make([]tracker.Anchor, 0, len(payload.Anchors))
	for _, a := range payload.Anchors {
		out = append(out, tracker.Anchor{
			ID:          a.ID,
			Selector:    a.Selector,
			RelativeX:   a.RelativeX,
			RelativeY:   a.RelativeY,
			DeviceWidth: a.DeviceWidth,
		})
	}
	return out
}
