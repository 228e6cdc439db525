package security

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/treykane/portkeeper/internal/appconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects the posture of portkeeper's files and cloudflared's
// credentials.
func RunLocalAudit() (AuditReport, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return AuditReport{}, err
	}

	var findings []Finding
	if addr := strings.TrimSpace(cfg.Metrics.ListenAddr); addr != "" && !loopbackAddr(addr) {
		findings = append(findings, Finding{
			Severity:       SeverityMedium,
			Target:         "config.yaml",
			Message:        fmt.Sprintf("metrics endpoint listens on a non-loopback address (%s)", addr),
			Recommendation: "bind metrics.listen_addr to 127.0.0.1",
		})
	}

	if cfHome, err := cfg.CloudflaredHome(); err == nil {
		checkPathPerm(&findings, cfHome, 0o700, false, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(cfHome, "cert.pem"), 0o600, true, SeverityHigh)
		creds, _ := filepath.Glob(filepath.Join(cfHome, "*.json"))
		sort.Strings(creds)
		for _, c := range creds {
			checkPathPerm(&findings, c, 0o600, true, SeverityHigh)
		}
	}

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(cfgDir, "runtime.json"), 0o600, true, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(cfgDir, "projects.yaml"), 0o600, true, SeverityMedium)
	}
	if ingressDir, err := appconfig.IngressDir(); err == nil {
		checkPathPerm(&findings, ingressDir, 0o700, false, SeverityMedium)
		files, _ := filepath.Glob(filepath.Join(ingressDir, "*.yml"))
		sort.Strings(files)
		for _, f := range files {
			checkPathPerm(&findings, f, 0o600, true, SeverityMedium)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool, sev Severity) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       sev,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
