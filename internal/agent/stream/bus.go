package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

var encodeFailure = []byte(`{"event":"error","error":"Failed to encode payload"}` + "\n")

// Bus is an unbounded FIFO of NDJSON records with many producers and a
// single consumer. Close is idempotent and wakes a blocked consumer, which
// drains what was queued before it stops.
type Bus struct {
	debug bool

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewBus(debug bool) *Bus {
	return &Bus{
		debug: debug,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Debug reports whether debug-only events are forwarded.
func (b *Bus) Debug() bool { return b.debug }

// Emit queues e. Events emitted after Close are dropped.
func (b *Bus) Emit(e Event) {
	rec, err := Encode(e)
	if err != nil {
		logx.Error().Err(err).Str("event", string(e.EventKind())).Msg("Failed to encode stream event")
		rec = encodeFailure
	}
	b.push(rec)
}

// EmitDebug queues e only on a debug bus.
func (b *Bus) EmitDebug(e Event) {
	if b.debug {
		b.Emit(e)
	}
}

// StreamAnswer emits text as paragraph-sized answer chunks.
func (b *Bus) StreamAnswer(text string) {
	for _, chunk := range SplitParagraphs(text) {
		b.Emit(AnswerEvent{Answer: chunk})
	}
}

func (b *Bus) push(rec []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		logx.Debug().Msg("Dropping stream event emitted after close")
		return
	}
	b.queue = append(b.queue, rec)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Close stops the bus. Safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Next blocks until a record is available. It returns false once the bus is
// closed and drained, or when ctx is done.
func (b *Bus) Next(ctx context.Context) ([]byte, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			rec := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return rec, true
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-b.ready:
		case <-b.done:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Encode renders e as one NDJSON record: {"event": kind, ...fields}\n.
func Encode(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %q does not encode to a JSON object", e.EventKind())
	}
	kind, err := json.Marshal(e.EventKind())
	if err != nil {
		return nil, err
	}

	rec := make([]byte, 0, len(body)+len(kind)+12)
	rec = append(rec, `{"event":`...)
	rec = append(rec, kind...)
	if len(body) > 2 {
		rec = append(rec, ',')
	}
	rec = append(rec, body[1:]...)
	return append(rec, '\n'), nil
}
