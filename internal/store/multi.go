package store

import (
	"context"
	"errors"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

// Sink persists a finished scan result.
type Sink interface {
	Save(ctx context.Context, result *schemas.ScanResult) error
	Close() error
}

// Multi saves every result to all of its sinks. A failing sink does not stop
// the others; the errors are joined.
type Multi []Sink

// Save saves result to every sink.
func (m Multi) Save(ctx context.Context, result *schemas.ScanResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
