// Package watcher turns a tunnel daemon's unstructured diagnostic stream into
// a typed sequence of events.
//
// Every line becomes a KindLog event. The first line carrying the readiness
// marker is followed by exactly one KindReady event; later matches are only
// logged. When the stream ends the process is reaped and a single KindExit
// event reports the exit code together with whether readiness had been
// signaled, which is what separates "failed before ready" from "unexpected
// exit". The channel is closed after the exit event.
package watcher

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// DefaultReadyMarker is the text cloudflared logs once a connection to the
// edge is registered and traffic can flow.
const DefaultReadyMarker = "Registered tunnel connection"

// Kind classifies an Event.
type Kind string

const (
	KindLog   Kind = "log"
	KindReady Kind = "ready"
	KindExit  Kind = "exit"
)

// Event is one observation about the watched process.
type Event struct {
	Kind Kind
	Time time.Time

	// Line and Level are set for KindLog.
	Line  string
	Level string

	// ExitCode, Err and Ready are set for KindExit. Ready reports whether a
	// KindReady event was emitted before the exit.
	ExitCode int
	Err      error
	Ready    bool
}

// Options tunes Watch. The zero value uses DefaultReadyMarker and time.Now.
type Options struct {
	ReadyMarker string
	Now         func() time.Time
}

// WaitFunc reaps the process and returns its exit code.
type WaitFunc func() (int, error)

const maxLine = 1 << 20

// Watch reads stream line by line until EOF, then calls wait. The returned
// channel must be drained until closed.
func Watch(stream io.Reader, wait WaitFunc, opts Options) <-chan Event {
	marker := opts.ReadyMarker
	if marker == "" {
		marker = DefaultReadyMarker
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		ready := false
		sc := bufio.NewScanner(stream)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			out <- Event{Kind: KindLog, Time: now(), Line: line, Level: ParseLevel(line)}
			if !ready && strings.Contains(line, marker) {
				ready = true
				out <- Event{Kind: KindReady, Time: now()}
			}
		}
		if sc.Err() != nil {
			// Keep the pipe drained so the daemon never blocks on a full buffer.
			_, _ = io.Copy(io.Discard, stream)
		}
		code, err := wait()
		out <- Event{Kind: KindExit, Time: now(), ExitCode: code, Err: err, Ready: ready}
	}()
	return out
}

// ParseLevel extracts the level token cloudflared writes after the timestamp
// ("2024-05-01T10:00:00Z INF Registered ..."). Lines without a recognizable
// level return "".
func ParseLevel(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if i > 1 {
			break
		}
		switch f {
		case "DBG", "INF", "WRN", "ERR", "FTL":
			return f
		}
	}
	return ""
}
