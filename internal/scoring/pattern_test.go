package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/internal/rules"
	"threatshield/pkg/models"
)

var daytime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedEngine struct {
	matches []rules.Match
}

func (f *fixedEngine) Apply(event *models.ObservedEvent) []rules.Match {
	return f.matches
}

func TestAnalyzeReconnaissance(t *testing.T) {
	s := NewScorer(nil)
	got := s.Analyze(&models.ObservedEvent{
		Name:      "DescribeInstances",
		UserAgent: "nmap/7.80",
		Timestamp: daytime,
	})

	assert.Equal(t, []string{"suspicious_api_call:DescribeInstances", "suspicious_user_agent:nmap"}, got.MatchedRules)
	assert.Equal(t, 7, got.Score)
	assert.Equal(t, 70, got.Confidence)
	assert.Equal(t, []string{"nmap"}, got.Tools)
}

func TestAnalyzeBruteForceScenario(t *testing.T) {
	s := NewScorer(nil)
	got := s.Analyze(&models.ObservedEvent{
		Name:          "GetUser",
		SourceAddress: "203.0.113.25",
		UserAgent:     "sqlmap/1.6.12",
		ErrorCode:     "AccessDenied",
		Timestamp:     daytime,
	})

	assert.Equal(t, []string{
		"suspicious_api_call:GetUser",
		"suspicious_user_agent:sqlmap",
		"api_error:AccessDenied",
	}, got.MatchedRules)
	assert.Equal(t, 8, got.Score)
	assert.Equal(t, 80, got.Confidence)
}

func TestAnalyzeUserAgentIsCaseInsensitiveAndCountsDistinctTools(t *testing.T) {
	s := NewScorer(nil)
	got := s.Analyze(&models.ObservedEvent{Name: "PutObject", UserAgent: "Mozilla SQLMap via Burp Suite", Timestamp: daytime})

	assert.Equal(t, []string{"suspicious_user_agent:sqlmap", "suspicious_user_agent:burp"}, got.MatchedRules)
	assert.Equal(t, 10, got.Score)
	assert.Equal(t, 100, got.Confidence)
}

func TestAnalyzeOffHoursBoundaries(t *testing.T) {
	s := NewScorer(nil)
	cases := []struct {
		hour     int
		offHours bool
	}{
		{0, true}, {5, true}, {6, false}, {22, false}, {23, true},
	}
	for _, tc := range cases {
		got := s.Analyze(&models.ObservedEvent{Name: "PutObject", Timestamp: time.Date(2024, 1, 15, tc.hour, 59, 0, 0, time.UTC)})
		assert.Equal(t, tc.offHours, len(got.MatchedRules) == 1, "hour %d", tc.hour)
	}
}

func TestAnalyzeBenignEvent(t *testing.T) {
	s := NewScorer(nil)
	got := s.Analyze(&models.ObservedEvent{Name: "PutObject", UserAgent: "aws-cli/2.0.0", Timestamp: daytime})
	assert.Empty(t, got.MatchedRules)
	assert.Zero(t, got.Score)
	assert.Zero(t, got.Confidence)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	s := NewScorer(nil)
	event := &models.ObservedEvent{Name: "ListRoles", UserAgent: "hydra nikto", ErrorCode: "Throttling", Timestamp: daytime.Add(-8 * time.Hour)}
	first := s.Analyze(event)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, s.Analyze(event))
	}
}

func TestAnalyzeIncludesSigmaMatches(t *testing.T) {
	s := NewScorer(&fixedEngine{matches: []rules.Match{
		{ID: "r1", Severity: "high", Tactic: "discovery"},
		{ID: "r2", Severity: "critical", Tactic: "credential-access", Technique: "T1110/001"},
	}})
	got := s.Analyze(&models.ObservedEvent{Name: "ConsoleLogin", Timestamp: daytime})

	assert.Equal(t, []string{
		"sigma_rule:r1:reconnaissance",
		"sigma_rule:r2:credential-access:brute_force",
	}, got.MatchedRules)
	assert.Equal(t, 7, got.Score)
}

func TestExtractAttackPatterns(t *testing.T) {
	s := NewScorer(nil)
	event := &models.ObservedEvent{
		Name:         "DescribeDBInstances",
		Source:       "rds.amazonaws.com",
		UserAgent:    "sqlmap/1.6",
		ErrorCode:    "AccessDenied",
		ResourceRefs: []string{"a", "b", "c", "d", "e", "f"},
		Timestamp:    time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC),
	}
	got := ExtractAttackPatterns(event, s.Analyze(event))

	assert.Equal(t, []string{"database", "reconnaissance"}, got.Vectors.Sorted())
	assert.Equal(t, []string{"sqlmap"}, got.Tools.Sorted())
	assert.Equal(t, []string{"failed_attempts", "bulk_operations"}, got.Behaviors)
	assert.Equal(t, 23, got.Hour)
	assert.Equal(t, 0, got.Weekday)
	assert.True(t, got.OffHours)
}

func TestExtractAttackPatternsDataAccess(t *testing.T) {
	got := ExtractAttackPatterns(&models.ObservedEvent{Name: "GetObject", Source: "s3.amazonaws.com", Timestamp: daytime}, models.PatternAnalysis{})
	assert.Equal(t, []string{"data_access"}, got.Vectors.Sorted())
	assert.Empty(t, got.Tools)
}
