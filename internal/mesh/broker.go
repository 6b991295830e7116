package mesh

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("broker connection closed")

// Conn is one live broker connection. It is owned by a single bridge task and
// closed by it on exit.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers inbound payloads for topic on the returned channel.
	// The channel is never closed; watch Done to learn about disconnects.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Done is closed once the connection is lost or closed.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
