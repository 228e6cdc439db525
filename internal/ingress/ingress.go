// Package ingress renders the configuration document cloudflared reads when
// running a named tunnel.
//
// Rendering is a pure function of its inputs: the same Input always produces
// byte-identical output, which keeps the on-disk file stable across restarts
// and makes the renderer testable in isolation from process management.
package ingress

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/treykane/portkeeper/internal/util"
	"gopkg.in/yaml.v3"
)

// CatchAllService answers every request that matched no hostname rule.
const CatchAllService = "http_status:404"

// Input describes the tunnel and local service one ingress file serves.
type Input struct {
	TunnelID        string
	CredentialsFile string
	// Hostname is optional. Without it the tunnel runs with no public route.
	Hostname  string
	LocalPort int
}

// Rule is one ingress entry.
type Rule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

// Document mirrors the cloudflared config file. Field order is the order
// keys are written.
type Document struct {
	Tunnel          string `yaml:"tunnel"`
	CredentialsFile string `yaml:"credentials-file"`
	Ingress         []Rule `yaml:"ingress"`
}

// LocalService returns the origin URL for a local port.
func LocalService(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// Build converts an Input into a Document without serializing it.
func Build(in Input) (Document, error) {
	if strings.TrimSpace(in.TunnelID) == "" {
		return Document{}, fmt.Errorf("tunnel id is required")
	}
	if strings.TrimSpace(in.CredentialsFile) == "" {
		return Document{}, fmt.Errorf("credentials file is required")
	}
	if err := util.ValidatePort(in.LocalPort); err != nil {
		return Document{}, fmt.Errorf("invalid local port: %w", err)
	}
	doc := Document{
		Tunnel:          in.TunnelID,
		CredentialsFile: in.CredentialsFile,
	}
	if host := util.NormalizeHostname(in.Hostname); host != "" {
		doc.Ingress = append(doc.Ingress, Rule{Hostname: host, Service: LocalService(in.LocalPort)})
	}
	doc.Ingress = append(doc.Ingress, Rule{Service: CatchAllService})
	return doc, nil
}

// Render produces the config text for an Input.
func Render(in Input) ([]byte, error) {
	doc, err := Build(in)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode ingress config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode ingress config: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes config text produced by Render (or written by hand).
func Parse(b []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("parse ingress config: %w", err)
	}
	return doc, nil
}

// Path returns where the config for a tunnel name lives inside dir.
func Path(dir, tunnelName string) string {
	return filepath.Join(dir, tunnelName+".yml")
}

// WriteFile truncates and rewrites path with data. The file references a
// credentials path, so it is kept owner-only.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Remove deletes the config at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
