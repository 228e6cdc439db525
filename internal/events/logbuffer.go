package events

import (
	"sync"
	"time"

	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/util"
)

// LogBuffer keeps the most recent daemon log lines per project.
type LogBuffer struct {
	mu    sync.Mutex
	size  int
	lines map[string][]model.LogEvent
}

// NewLogBuffer creates a buffer holding at most size lines per project.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = util.DefaultLogBufferSize
	}
	return &LogBuffer{size: size, lines: make(map[string][]model.LogEvent)}
}

// Publish implements Sink; only TypeLog events are kept.
func (b *LogBuffer) Publish(evt Event) {
	if evt.EventType != TypeLog {
		return
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	b.Add(model.LogEvent{ProjectID: evt.ProjectID, Level: evt.Level, Message: evt.Message, Timestamp: ts})
}

// Add appends a line, dropping the oldest once the project is at capacity.
func (b *LogBuffer) Add(le model.LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := append(b.lines[le.ProjectID], le)
	if len(buf) > b.size {
		// Copy instead of reslicing so the backing array does not grow forever.
		buf = append([]model.LogEvent(nil), buf[len(buf)-b.size:]...)
	}
	b.lines[le.ProjectID] = buf
}

// Lines returns a copy of the buffered lines for a project, oldest first.
func (b *LogBuffer) Lines(projectID string) []model.LogEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.LogEvent(nil), b.lines[projectID]...)
}

// Clear drops the buffered lines for a project.
func (b *LogBuffer) Clear(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lines, projectID)
}
