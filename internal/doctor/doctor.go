package doctor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/procinspect"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/security"
	"github.com/treykane/portkeeper/internal/tunnel"
	"github.com/treykane/portkeeper/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// HasHigh reports whether any issue would stop tunnels from starting.
func (r Report) HasHigh() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Run executes local diagnostics for portkeeper operations.
func Run() (Report, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return Report{}, err
	}
	var issues []Issue

	cfHome, err := cfg.CloudflaredHome()
	if err != nil {
		return Report{}, err
	}
	client := cloudflared.New(cfg.Cloudflared.Binary, cfHome)
	if err := client.EnsureBinary(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "cloudflared-binary",
			Target:         "PATH",
			Message:        err.Error(),
			Recommendation: "install cloudflared or set cloudflared.binary in config.yaml",
		})
	}
	if err := client.CheckAuth(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "cloudflared-auth",
			Target:         client.CertPath(),
			Message:        err.Error(),
			Recommendation: "run `portkeeper login`",
		})
	}

	projects, err := project.LoadAll()
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "projects-file",
			Target:         "projects.yaml",
			Message:        err.Error(),
			Recommendation: "fix or remove the malformed projects file",
		})
	}
	issues = append(issues, projectIssues(projects, procinspect.Listening)...)

	if path, err := appconfig.RuntimeFilePath(); err == nil {
		if rts, err := tunnel.ReadRuntime(path); err == nil {
			issues = append(issues, runtimeIssues(rts, projects)...)
		}
	}

	if audit, err := security.RunLocalAudit(); err == nil {
		for _, f := range audit.Findings {
			sev := SeverityLow
			if f.Severity == security.SeverityMedium {
				sev = SeverityMedium
			}
			if f.Severity == security.SeverityHigh {
				sev = SeverityHigh
			}
			issues = append(issues, Issue{
				Severity:       sev,
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func projectIssues(projects []model.Project, listening func(int) bool) []Issue {
	ports := map[int][]string{}
	domains := map[string][]string{}
	var issues []Issue
	for _, p := range projects {
		ports[p.LocalPort] = append(ports[p.LocalPort], p.Name)
		if p.Domain == "" {
			continue
		}
		domains[p.Domain] = append(domains[p.Domain], p.Name)
		if err := util.ValidateHostname(p.Domain); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "invalid-domain",
				Target:         p.Name,
				Message:        err.Error(),
				Recommendation: "fix it with `portkeeper project set-domain`",
			})
		}
		if listening != nil && !listening(p.LocalPort) {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "local-port-idle",
				Target:         p.Name,
				Message:        fmt.Sprintf("nothing is listening on 127.0.0.1:%d", p.LocalPort),
				Recommendation: "start the local service before exposing it",
			})
		}
	}
	for port, names := range ports {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-port",
			Target:         fmt.Sprintf("127.0.0.1:%d", port),
			Message:        fmt.Sprintf("local port is used by %d projects (%s)", len(names), strings.Join(names, ", ")),
			Recommendation: "give each project its own local port",
		})
	}
	for domain, names := range domains {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-domain",
			Target:         domain,
			Message:        fmt.Sprintf("domain is routed by %d projects (%s)", len(names), strings.Join(names, ", ")),
			Recommendation: "a hostname can only be routed to one tunnel",
		})
	}
	return issues
}

func runtimeIssues(rts []model.TunnelRuntime, projects []model.Project) []Issue {
	known := make(map[string]bool, len(projects))
	for _, p := range projects {
		known[p.ID] = true
	}
	var issues []Issue
	for _, rt := range rts {
		if rt.State == model.TunnelDown {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "runtime-stale",
				Target:         rt.TunnelName,
				Message:        "runtime lists a tunnel whose daemon is no longer alive",
				Recommendation: "start the tunnel again or remove runtime.json",
			})
		}
		if !known[rt.ProjectID] {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "runtime-orphan",
				Target:         rt.TunnelName,
				Message:        "runtime lists a tunnel for a project that no longer exists",
				Recommendation: "run `portkeeper tunnel delete` for the tunnel",
			})
		}
	}
	return issues
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
