package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/treykane/portkeeper/internal/model"
)

func TestLogBufferCapsPerProject(t *testing.T) {
	b := NewLogBuffer(1000)
	for i := 0; i < 1005; i++ {
		b.Publish(Event{ProjectID: "p1", EventType: TypeLog, Message: fmt.Sprintf("line %d", i)})
	}
	b.Publish(Event{ProjectID: "p2", EventType: TypeLog, Message: "other"})
	b.Publish(Event{ProjectID: "p1", EventType: TypeReady})

	lines := b.Lines("p1")
	require.Len(t, lines, 1000)
	assert.Equal(t, "line 5", lines[0].Message)
	assert.Equal(t, "line 1004", lines[999].Message)
	assert.False(t, lines[0].Timestamp.IsZero())
	assert.Len(t, b.Lines("p2"), 1)

	b.Clear("p1")
	assert.Empty(t, b.Lines("p1"))
}

func TestLogBufferDefaultSize(t *testing.T) {
	b := NewLogBuffer(0)
	for i := 0; i < 1200; i++ {
		b.Add(modelLine("p", i))
	}
	assert.Len(t, b.Lines("p"), 1000)
}

func TestBroadcasterFanOut(t *testing.T) {
	br := NewBroadcaster()
	id1, ch1 := br.Subscribe(4)
	_, ch2 := br.Subscribe(4)

	br.Publish(Event{ProjectID: "p1", EventType: TypeReady})
	assert.Equal(t, TypeReady, (<-ch1).EventType)
	assert.Equal(t, TypeReady, (<-ch2).EventType)

	br.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok)

	// A full subscriber drops events instead of blocking.
	for i := 0; i < 10; i++ {
		br.Publish(Event{EventType: TypeLog})
	}
	assert.Len(t, ch2, 4)
}

func TestMultiAndSinkFunc(t *testing.T) {
	var got []Type
	m := Multi{SinkFunc(func(e Event) { got = append(got, e.EventType) }), nil, Discard}
	m.Publish(Event{EventType: TypeStopped})
	assert.Equal(t, []Type{TypeStopped}, got)
}

func modelLine(project string, i int) model.LogEvent {
	return model.LogEvent{ProjectID: project, Message: fmt.Sprintf("line %d", i)}
}
