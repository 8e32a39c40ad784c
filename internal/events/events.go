// Package events fans instance dispatch messages out to the parties
// interested in them: the websocket hub of the API server and, when
// configured, a NATS subject tree.
package events

import (
	"context"
	"errors"
	"strings"

	"evalgo.org/nimbus/models"
)

// Publisher delivers a dispatch message to its subscribers.
type Publisher interface {
	Publish(ctx context.Context, dispatch models.InstanceDispatch) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, dispatch models.InstanceDispatch) error

func (f PublisherFunc) Publish(ctx context.Context, dispatch models.InstanceDispatch) error {
	return f(ctx, dispatch)
}

// Multi publishes every dispatch to all of its publishers. A failing
// publisher does not stop the others; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, dispatch models.InstanceDispatch) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, dispatch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subject returns the NATS subject for an action type under prefix, e.g.
// "nimbus.instance.change".
func Subject(prefix, actionType string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return actionType
	}
	return prefix + "." + actionType
}
