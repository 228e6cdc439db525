package tunnel

import (
	"strings"

	"github.com/treykane/portkeeper/internal/util"
)

// TunnelName derives the remote tunnel name for a project. It is a pure
// function of the project id so repeated starts address the same remote
// tunnel.
//
//	TunnelName("portkeeper", "8c1f…-Ab") → "portkeeper-8c1f-ab"
func TunnelName(prefix, projectID string) string {
	prefix = util.DefaultString(prefix, util.DefaultTunnelPrefix)
	return prefix + "-" + sanitize(projectID)
}

func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "project"
	}
	return out
}
