// Package source delivers live trace events to triggers. Each trigger runs
// its own session; a session calls the handler from a single goroutine.
package source

import (
	"context"

	"tracetrigger/pkg/models"
)

// Handler receives one event. It is never called concurrently for the same
// session.
type Handler func(ev *models.TraceEvent)

// Source is one trace session.
//
// Run subscribes, calls ready once events can flow, and then delivers events
// to handle until ctx is done or Close is called, returning nil in both
// cases. Any other return is a session failure.
type Source interface {
	Run(ctx context.Context, handle Handler, ready func()) error
	Close() error
}

// Factory opens a new session for a named trigger.
type Factory func(trigger string, bufferSizeMB int) (Source, error)
