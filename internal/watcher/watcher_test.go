package watcher

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("watcher did not finish")
		}
	}
}

func kinds(evts []Event) []Kind {
	out := make([]Kind, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Kind)
	}
	return out
}

func exitWith(code int, err error) WaitFunc {
	return func() (int, error) { return code, err }
}

func TestWatch_ReadyIsReportedOnce(t *testing.T) {
	stream := strings.Join([]string{
		"2024-05-01T10:00:00Z INF Starting tunnel tunnelID=abc-123",
		"2024-05-01T10:00:01Z INF Registered tunnel connection connIndex=0 location=ams01",
		"2024-05-01T10:00:01Z INF Registered tunnel connection connIndex=1 location=fra02",
		"",
	}, "\n")

	evts := collect(t, Watch(strings.NewReader(stream), exitWith(0, nil), Options{}))
	assert.Equal(t, []Kind{KindLog, KindLog, KindReady, KindLog, KindExit}, kinds(evts))

	last := evts[len(evts)-1]
	assert.True(t, last.Ready)
	assert.Equal(t, 0, last.ExitCode)
}

func TestWatch_ExitBeforeReady(t *testing.T) {
	stream := "2024-05-01T10:00:00Z ERR Cannot determine default origin certificate path\n"
	evts := collect(t, Watch(strings.NewReader(stream), exitWith(1, nil), Options{}))

	require.Equal(t, []Kind{KindLog, KindExit}, kinds(evts))
	assert.Equal(t, "ERR", evts[0].Level)
	assert.False(t, evts[1].Ready)
	assert.Equal(t, 1, evts[1].ExitCode)
}

func TestWatch_PropagatesWaitError(t *testing.T) {
	boom := errors.New("wait failed")
	evts := collect(t, Watch(strings.NewReader(""), exitWith(-1, boom), Options{}))
	require.Len(t, evts, 1)
	assert.ErrorIs(t, evts[0].Err, boom)
}

func TestWatch_CustomMarkerAndClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	evts := collect(t, Watch(strings.NewReader("tunnel up\r\n"), exitWith(0, nil), Options{
		ReadyMarker: "up",
		Now:         func() time.Time { return fixed },
	}))
	require.Equal(t, []Kind{KindLog, KindReady, KindExit}, kinds(evts))
	assert.Equal(t, "tunnel up", evts[0].Line)
	for _, e := range evts {
		assert.Equal(t, fixed, e.Time)
	}
}

func TestWatch_StreamingPipe(t *testing.T) {
	r, w := io.Pipe()
	exited := make(chan struct{})
	ch := Watch(r, func() (int, error) {
		<-exited
		return 137, nil
	}, Options{})

	_, err := io.WriteString(w, "INF Registered tunnel connection connIndex=0\n")
	require.NoError(t, err)
	assert.Equal(t, KindLog, (<-ch).Kind)
	assert.Equal(t, KindReady, (<-ch).Kind)

	require.NoError(t, w.Close())
	close(exited)
	evt := <-ch
	assert.Equal(t, KindExit, evt.Kind)
	assert.Equal(t, 137, evt.ExitCode)
	assert.True(t, evt.Ready)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "INF", ParseLevel("2024-05-01T10:00:00Z INF hello"))
	assert.Equal(t, "WRN", ParseLevel("WRN hello"))
	assert.Equal(t, "", ParseLevel("plain text line ERR"))
}
