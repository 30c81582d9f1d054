package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/xhad/cyberrag/internal/models"
)

// Stream is a single-consumer iterator over generated text fragments.
//
//	s := client.Stream(ctx, msgs, opts)
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Close cancels the underlying request, so abandoning a stream early tears
// down the HTTP connection instead of leaving it to finish in the background.
type Stream struct {
	fragments chan string
	cancel    context.CancelFunc

	// runErr is written by the producer before fragments is closed.
	runErr error

	current  string
	err      error
	finished bool
	closed   bool
	once     sync.Once
}

type emitFunc func(fragment string) error

func newStream(parent context.Context, run func(ctx context.Context, emit emitFunc) error) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		fragments: make(chan string),
		cancel:    cancel,
	}

	go func() {
		defer close(s.fragments)
		s.runErr = run(ctx, func(fragment string) error {
			select {
			case s.fragments <- fragment:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

// failedStream returns a stream that ends immediately with err.
func failedStream(err error) *Stream {
	return newStream(context.Background(), func(context.Context, emitFunc) error { return err })
}

// Next advances to the next non-empty fragment. It returns false at the end
// of the stream, after a failure, or once Close has been called.
func (s *Stream) Next() bool {
	if s.finished || s.closed {
		return false
	}
	for fragment := range s.fragments {
		if fragment == "" {
			continue
		}
		s.current = fragment
		return true
	}
	s.finished = true
	s.current = ""
	s.err = s.runErr
	s.cancel()
	return false
}

// Text returns the fragment read by the last successful Next.
func (s *Stream) Text() string { return s.current }

// Err returns the failure that ended the stream, if any. A stream stopped by
// Close reports no error.
func (s *Stream) Err() error { return s.err }

// Close cancels the request and waits for the producer to exit. It is safe
// to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closed = !s.finished
		s.cancel()
		for range s.fragments {
		}
	})
	return nil
}

// Collect drains the stream and joins every fragment into one Result.
func (s *Stream) Collect() Result {
	defer s.Close()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Text())
	}
	if err := s.Err(); err != nil {
		return FailWith(models.KindTransport, err)
	}
	return Ok(b.String())
}
