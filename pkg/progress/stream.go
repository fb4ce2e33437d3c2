package progress

import "sync"

// Stream is a bounded, latest-value-wins progress channel. A slow consumer
// never blocks the producing pipeline: when the buffer is full the stale
// snapshot is dropped in favor of the newest one.
type Stream struct {
	mu     sync.Mutex
	ch     chan Progress
	closed bool
}

// NewStream creates a stream with a single-slot buffer.
func NewStream() *Stream {
	return &Stream{ch: make(chan Progress, 1)}
}

// Publish delivers a snapshot, evicting the buffered one if the consumer has
// not caught up. Publishing to a closed stream is a no-op.
func (s *Stream) Publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- p:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Updates returns the consumer side of the stream. The channel is closed when
// the task reaches a terminal stage.
func (s *Stream) Updates() <-chan Progress {
	return s.ch
}

// Close terminates the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
