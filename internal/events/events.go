// Package events defines tunnel lifecycle events and the sinks that receive
// them: the on-disk journal, the per-project log buffer, and the broadcaster
// that feeds interactive views.
package events

import (
	"time"

	"github.com/treykane/portkeeper/internal/model"
)

// Type names a lifecycle transition or a daemon log line.
type Type string

const (
	TypeLog            Type = "log"
	TypeStarting       Type = "starting"
	TypeReady          Type = "ready"
	TypeFailed         Type = "failed"
	TypeStopped        Type = "stopped"
	TypeUnexpectedExit Type = "unexpected_exit"
	TypeDeleted        Type = "deleted"
	TypeCleanupFailed  Type = "cleanup_failed"
)

// Event is one tunnel lifecycle record.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	ProjectID  string            `json:"project_id,omitempty"`
	TunnelName string            `json:"tunnel_name,omitempty"`
	EventType  Type              `json:"event_type"`
	State      model.TunnelState `json:"state,omitempty"`
	Level      string            `json:"level,omitempty"`
	Message    string            `json:"message,omitempty"`
	PID        int               `json:"pid,omitempty"`
	ExitCode   int               `json:"exit_code,omitempty"`
}

// Sink receives events. Publish must not block for long: it is called from
// the goroutines that supervise daemon processes.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(evt Event) { f(evt) }

// Multi fans every event out to each sink in order.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(evt Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(evt)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
