// Package emitter defines the outputs notified after each materialization run.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/warden/pkg/resource"
)

// Emitter outputs the asset set of a materialization run to a backend.
type Emitter interface {
	// Emit sends one run report to the backend.
	Emit(ctx context.Context, report resource.RunReport) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter and joins their errors.
func (m *MultiEmitter) Emit(ctx context.Context, report resource.RunReport) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
