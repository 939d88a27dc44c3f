// Package store defines the InvocationStore interface for bedrockcall persistence.
package store

import (
	"context"
	"errors"

	"github.com/jxucoder/bedrockcall/pkg/model"
)

// ErrNotFound is returned when an invocation does not exist.
var ErrNotFound = errors.New("invocation not found")

// InvocationStore provides persistence for invocations and their events.
type InvocationStore interface {
	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	// ListInvocations returns the newest invocations first. A limit <= 0
	// returns all of them.
	ListInvocations(ctx context.Context, limit int) ([]*model.Invocation, error)
	UpdateInvocation(ctx context.Context, inv *model.Invocation) error
	AddEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, invocationID string, afterID int64) ([]*model.Event, error)
	Close() error
}
