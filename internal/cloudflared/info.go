package cloudflared

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoTunnelID means "tunnel info" output held no usable id.
var ErrNoTunnelID = errors.New("tunnel info returned no id")

// Info is the subset of "tunnel info --output json" that portkeeper uses.
type Info struct {
	ID          string
	Name        string
	CreatedAt   string
	Connections int
}

// ParseInfo extracts tunnel details from "tunnel info" JSON output.
//
// Some cloudflared builds print log lines ahead of the document on the same
// stream, so parsing starts at the first '{'.
func ParseInfo(out []byte) (Info, error) {
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return Info{}, fmt.Errorf("%w: output is not JSON", ErrNoTunnelID)
	}
	doc := out[start:]
	if !gjson.ValidBytes(doc) {
		return Info{}, fmt.Errorf("%w: malformed JSON", ErrNoTunnelID)
	}
	res := gjson.ParseBytes(doc)
	id := strings.TrimSpace(res.Get("id").String())
	if id == "" {
		return Info{}, ErrNoTunnelID
	}
	return Info{
		ID:          id,
		Name:        res.Get("name").String(),
		CreatedAt:   res.Get("createdAt").String(),
		Connections: int(res.Get("conns.#").Int()),
	}, nil
}
