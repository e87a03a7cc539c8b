package annotations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/logging"
)

const anonymousAuthor = "anonymous"

// ErrInvalid is returned when a create or update request is not
// well-formed.
var ErrInvalid = errors.New("invalid annotation")

// CreateInput is the caller-supplied portion of a new annotation.
type CreateInput struct {
	URL              string  `json:"url" binding:"required"`
	Content          string  `json:"content" binding:"required"`
	Selector         string  `json:"selector"`
	SelectorFallback string  `json:"selectorFallback"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	RelativeX        float64 `json:"relativeX"`
	RelativeY        float64 `json:"relativeY"`
	DeviceWidth      int     `json:"deviceWidth" binding:"required"`
	AuthorID         string  `json:"authorId"`
	ParentID         string  `json:"parentId"`
}

// UpdateInput carries the mutable annotation fields. Nil means keep.
type UpdateInput struct {
	Content  *string `json:"content"`
	Resolved *bool   `json:"resolved"`
}

// Service applies annotation business rules over a Store: content
// sanitization, id and timestamp assignment, and thread integrity.
type Service struct {
	store    Store
	sanitize *bluemonday.Policy
	logger   *logging.Logger
}

// NewService creates the annotation service.
func NewService(store Store, logger *logging.Logger) *Service {
	return &Service{
		store:    store,
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// Create validates, sanitizes and stores a new annotation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Annotation, error) {
	content := strings.TrimSpace(s.sanitize.Sanitize(in.Content))
	if content == "" || in.URL == "" || in.DeviceWidth <= 0 {
		return nil, ErrInvalid
	}

	if in.ParentID != "" {
		parent, err := s.store.Get(ctx, in.ParentID)
		if err != nil {
			return nil, err
		}
		// Threads are one level deep; replies attach to the root.
		if parent.ParentID != "" {
			in.ParentID = parent.ParentID
		}
	}

	author := strings.TrimSpace(in.AuthorID)
	if author == "" {
		author = anonymousAuthor
	}

	now := time.Now().UTC()
	a := &Annotation{
		ID:               uuid.NewString(),
		URL:              in.URL,
		Content:          content,
		Selector:         in.Selector,
		SelectorFallback: in.SelectorFallback,
		X:                clampFraction(in.X),
		Y:                clampFraction(in.Y),
		RelativeX:        clampFraction(in.RelativeX),
		RelativeY:        clampFraction(in.RelativeY),
		Device: DeviceContext{
			Breakpoint: Classify(in.DeviceWidth),
			Width:      in.DeviceWidth,
		},
		AuthorID:  author,
		ParentID:  in.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads one annotation.
func (s *Service) Get(ctx context.Context, id string) (*Annotation, error) {
	return s.store.Get(ctx, id)
}

// List returns annotations matching params. Store failures degrade to
// an empty list: a broken store must not take the page view down with
// it.
func (s *Service) List(ctx context.Context, params ListParams) []*Annotation {
	out, err := s.store.List(ctx, params)
	if err != nil {
		s.logger.Error("annotation listing failed", zap.Error(err))
		return []*Annotation{}
	}
	if out == nil {
		out = []*Annotation{}
	}
	return out
}

// Update applies the given changes to an annotation.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Annotation, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Content != nil {
		content := strings.TrimSpace(s.sanitize.Sanitize(*in.Content))
		if content == "" {
			return nil, ErrInvalid
		}
		a.Content = content
	}
	if in.Resolved != nil {
		a.Resolved = *in.Resolved
	}
	a.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve toggles an annotation's resolved flag.
func (s *Service) Resolve(ctx context.Context, id string, resolved bool) (*Annotation, error) {
	return s.Update(ctx, id, UpdateInput{Resolved: &resolved})
}

// Delete removes an annotation and its replies.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
