package core

import (
	"fmt"
	"time"
)

// Event sources.
const (
	SourceClient = "client"
	SourceServer = "server"
)

// LogLine is one human-readable entry of the event stream consumed by a
// presentation layer.
type LogLine struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
}

func (l LogLine) String() string {
	return fmt.Sprintf("%s [%s] %s", l.Time.Format("15:04:05"), l.Source, l.Text)
}

// EventSink receives log lines. Implementations must not block.
type EventSink interface {
	Emit(line LogLine)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(line LogLine)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(line LogLine) { f(line) }

type nopSink struct{}

func (nopSink) Emit(LogLine) {}

// NopSink discards every line.
var NopSink EventSink = nopSink{}

// Emitf formats a line for source and hands it to sink. A nil sink is allowed.
func Emitf(sink EventSink, source, format string, args ...interface{}) {
	if sink == nil {
		return
	}
	sink.Emit(LogLine{Time: time.Now(), Source: source, Text: fmt.Sprintf(format, args...)})
}
