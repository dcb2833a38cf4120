package publish

import (
	"context"
	"errors"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Sink stores or forwards a sealed session.
type Sink interface {
	PersistSession(ctx context.Context, rec *domain.SessionRecord) error
}

// Fanout delivers a record to every sink in order. A failing sink does not
// stop the others; all errors are joined.
type Fanout []Sink

// PersistSession implements the session persister contract.
func (f Fanout) PersistSession(ctx context.Context, rec *domain.SessionRecord) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.PersistSession(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
