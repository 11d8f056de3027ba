// Package transport abstracts the three physical endpoints the proxy
// talks to — a serial gateway, a TCP peer (server or client), or an MQTT
// broker — behind a single read/write interface.
package transport

import (
	"context"
	"time"

	"github.com/mysensors/gwproxy/internal/protocol"
)

// Transport connects to one endpoint and uniformly reads and writes
// framed line messages over it. ReadLoop and WriteLoop run concurrently on
// independent goroutines against the same Transport value; the TCP and
// MQTT writers send over the connection their ReadLoop established.
type Transport interface {
	// ReadLoop emits one message per received line onto out. It retries
	// every failure internally, including failures to open, bind or dial
	// the endpoint, and returns only once ctx is done.
	ReadLoop(ctx context.Context, out chan<- protocol.LineMessage)

	// WriteLoop writes messages received from in to the endpoint. It
	// returns only once ctx is done or in is closed.
	WriteLoop(ctx context.Context, in <-chan protocol.LineMessage)

	// Close releases any held resources (open sockets, serial handles).
	Close() error
}

// backoff implements the bounded exponential reconnect schedule shared by
// every transport: start at 100ms, cap at 30s, reset to 100ms on success.
type backoff struct {
	cur time.Duration
}

const (
	backoffStart = 100 * time.Millisecond
	backoffCap   = 30 * time.Second
)

func newBackoff() *backoff {
	return &backoff{cur: backoffStart}
}

func (b *backoff) reset() {
	b.cur = backoffStart
}

// wait sleeps for the current backoff duration (or until ctx is done,
// whichever comes first) and doubles the duration up to the cap.
func (b *backoff) wait(ctx context.Context) {
	select {
	case <-time.After(b.cur):
	case <-ctx.Done():
	}
	b.cur *= 2
	if b.cur > backoffCap {
		b.cur = backoffCap
	}
}
