package completion

import "context"

// Stream fans one upstream completion out to two consumers: a forwardable
// delta channel and a blocking accessor for the accumulated text. The
// upstream is consumed exactly once; accumulation happens alongside
// forwarding, not by re-reading.
type Stream struct {
	deltas chan string
	done   chan struct{}

	text string
	err  error
}

// Run starts consuming the completion on its own goroutine.
// Cancelling ctx tears the upstream down and unblocks Final.
func Run(ctx context.Context, client Client, req Request) *Stream {
	s := &Stream{
		deltas: make(chan string, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.deltas)

		resp, err := client.Stream(ctx, req, func(delta string) error {
			select {
			case s.deltas <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.text = resp.Text
		s.err = err
	}()

	return s
}

// Deltas is the forwarding path. The channel closes when the stream ends,
// successfully or not.
func (s *Stream) Deltas() <-chan string { return s.deltas }

// Final blocks until the stream has ended and returns the accumulated text.
// A non-nil error means the stream did not complete; the text is then the
// partial accumulation and must not be persisted as a finished turn.
func (s *Stream) Final() (string, error) {
	<-s.done
	return s.text, s.err
}
