package logging

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/netstat/pkg/core"
)

// DefaultHistory is the number of lines an EventStream keeps by default.
const DefaultHistory = 256

// EventStream is a core.EventSink that logs each line, keeps a bounded
// history and fans lines out to subscribers. A subscriber that is not
// keeping up loses lines rather than blocking the emitter.
type EventStream struct {
	mu      sync.Mutex
	history []core.LogLine
	next    int
	full    bool
	subs    map[int]chan core.LogLine
	nextID  int
	dropped uint64
}

var _ core.EventSink = (*EventStream)(nil)

// NewEventStream returns a stream keeping the last size lines. size <= 0
// selects DefaultHistory.
func NewEventStream(size int) *EventStream {
	if size <= 0 {
		size = DefaultHistory
	}
	return &EventStream{
		history: make([]core.LogLine, size),
		subs:    make(map[int]chan core.LogLine),
	}
}

// Emit implements core.EventSink.
func (s *EventStream) Emit(line core.LogLine) {
	logger.WithFields(logrus.Fields{"source": line.Source}).Info(line.Text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[s.next] = line
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.dropped++
		}
	}
}

// History returns the retained lines, oldest first.
func (s *EventStream) History() []core.LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]core.LogLine(nil), s.history[:s.next]...)
	}
	out := make([]core.LogLine, 0, len(s.history))
	out = append(out, s.history[s.next:]...)
	return append(out, s.history[:s.next]...)
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel function unregisters it and closes the channel.
func (s *EventStream) Subscribe(buffer int) (<-chan core.LogLine, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan core.LogLine, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (s *EventStream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
