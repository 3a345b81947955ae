package scoring

import (
	"strings"

	"threatshield/internal/rules"
	"threatshield/pkg/models"
)

// SensitiveAPICalls are reconnaissance and identity lookups worth flagging.
var SensitiveAPICalls = []string{
	"DescribeInstances", "DescribeSecurityGroups", "DescribeVpcs",
	"ListBuckets", "GetBucketPolicy", "DescribeDBInstances",
	"GetUser", "ListUsers", "GetRole", "ListRoles",
}

// ToolSignatures are user-agent substrings of offensive tooling.
var ToolSignatures = []string{
	"nmap", "sqlmap", "nikto", "dirb", "gobuster", "hydra",
	"metasploit", "burp", "zap", "w3af",
}

const (
	apiCallWeight   = 2
	toolWeight      = 5
	errorWeight     = 1
	offHoursWeight  = 1
	offHoursStart   = 6
	offHoursEnd     = 22
	confidencePerPt = 10
)

// Scorer evaluates the fixed rule catalog, plus optional Sigma rules, over
// one event. It keeps no state between calls.
type Scorer struct {
	apiCalls map[string]struct{}
	tools    []string
	engine   rules.Engine
}

// NewScorer creates a scorer. engine may be nil.
func NewScorer(engine rules.Engine) *Scorer {
	calls := make(map[string]struct{}, len(SensitiveAPICalls))
	for _, name := range SensitiveAPICalls {
		calls[name] = struct{}{}
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}
	return &Scorer{
		apiCalls: calls,
		tools:    ToolSignatures,
		engine:   engine,
	}
}

// Analyze scores an event. Rules are evaluated in a fixed order and the tag
// order follows that order.
func (s *Scorer) Analyze(event *models.ObservedEvent) models.PatternAnalysis {
	out := models.PatternAnalysis{MatchedRules: []string{}}
	if event == nil {
		return out
	}

	if _, ok := s.apiCalls[event.Name]; ok {
		out.MatchedRules = append(out.MatchedRules, "suspicious_api_call:"+event.Name)
		out.Score += apiCallWeight
	}

	ua := strings.ToLower(event.UserAgent)
	for _, tool := range s.tools {
		if strings.Contains(ua, tool) {
			out.MatchedRules = append(out.MatchedRules, "suspicious_user_agent:"+tool)
			out.Tools = append(out.Tools, tool)
			out.Score += toolWeight
		}
	}

	if event.ErrorCode != "" {
		out.MatchedRules = append(out.MatchedRules, "api_error:"+event.ErrorCode)
		out.Score += errorWeight
	}

	if !event.Timestamp.IsZero() {
		hour := event.Timestamp.UTC().Hour()
		if hour < offHoursStart || hour > offHoursEnd {
			out.MatchedRules = append(out.MatchedRules, "off_hours_activity")
			out.Score += offHoursWeight
		}
	}

	for _, m := range s.engine.Apply(event) {
		out.MatchedRules = append(out.MatchedRules, sigmaTag(m))
		out.Score += severityWeight(m.Severity)
	}

	out.Confidence = out.Score * confidencePerPt
	if out.Confidence > 100 {
		out.Confidence = 100
	}
	return out
}

// sigmaTag renders a Sigma match as evidence. Tactics and techniques that map
// onto threat categories are spelled out so the aggregator can pick them up.
func sigmaTag(m rules.Match) string {
	id := m.ID
	if id == "" {
		id = m.Name
	}
	parts := []string{"sigma_rule", id}
	switch m.Tactic {
	case "reconnaissance", "discovery":
		parts = append(parts, "reconnaissance")
	case "":
	default:
		parts = append(parts, m.Tactic)
	}
	if strings.HasPrefix(m.Technique, "T1110") {
		parts = append(parts, "brute_force")
	}
	return strings.Join(parts, ":")
}

func severityWeight(level string) int {
	switch strings.ToLower(level) {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}
