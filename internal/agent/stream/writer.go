package stream

import (
	"context"
	"io"
)

type flusher interface {
	Flush()
}

// Pipe consumes the bus and writes every record to w until the bus is closed
// and drained or ctx is done. It flushes after each record when w supports it.
func (b *Bus) Pipe(ctx context.Context, w io.Writer) error {
	f, canFlush := w.(flusher)
	for {
		rec, ok := b.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if canFlush {
			f.Flush()
		}
	}
}
