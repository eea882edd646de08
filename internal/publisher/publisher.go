// Package publisher defines the transport used to ship analytics records to
// an external collector.
package publisher

import "context"

// Publisher sends one payload to a named topic and returns the broker's
// message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
