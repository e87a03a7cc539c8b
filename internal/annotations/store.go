package annotations

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no annotation has the requested id.
var ErrNotFound = errors.New("annotation not found")

// Store persists annotations.
type Store interface {
	Create(ctx context.Context, a *Annotation) error
	Get(ctx context.Context, id string) (*Annotation, error)
	List(ctx context.Context, params ListParams) ([]*Annotation, error)
	Update(ctx context.Context, a *Annotation) error
	Delete(ctx context.Context, id string) error
	Close() error
}
