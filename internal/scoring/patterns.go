package scoring

import (
	"strings"

	"threatshield/pkg/models"
)

const bulkResourceThreshold = 5

// ExtractAttackPatterns derives attack vectors and behaviors from an event
// and its pattern analysis. Tools are taken from the matched user-agent rules.
func ExtractAttackPatterns(event *models.ObservedEvent, pattern models.PatternAnalysis) models.AttackPatterns {
	out := models.AttackPatterns{
		Vectors: models.NewStringSet(),
		Tools:   models.NewStringSet(pattern.Tools...),
	}
	if event == nil {
		return out
	}

	name := event.Name
	switch {
	case strings.HasPrefix(name, "Describe"):
		out.Vectors.Add("reconnaissance")
	case strings.HasPrefix(name, "List"):
		out.Vectors.Add("reconnaissance")
		out.Vectors.Add("enumeration")
	case strings.HasPrefix(name, "Get"):
		out.Vectors.Add("data_access")
	case strings.HasPrefix(name, "Create"), strings.HasPrefix(name, "Put"):
		out.Vectors.Add("resource_creation")
	}

	source := strings.ToLower(event.Source)
	switch {
	case strings.HasPrefix(source, "rds."), strings.HasPrefix(source, "dynamodb."),
		strings.HasPrefix(source, "redshift."), strings.Contains(name, "DBInstance"):
		out.Vectors.Add("database")
	case strings.HasPrefix(source, "apigateway."), strings.HasPrefix(source, "execute-api."):
		out.Vectors.Add("api")
	}

	if event.ErrorCode != "" {
		out.Behaviors = append(out.Behaviors, "failed_attempts")
	}
	if len(event.ResourceRefs) > bulkResourceThreshold {
		out.Behaviors = append(out.Behaviors, "bulk_operations")
	}

	if !event.Timestamp.IsZero() {
		ts := event.Timestamp.UTC()
		out.Hour = ts.Hour()
		// Monday is 0, matching the archive's existing weekday encoding.
		out.Weekday = (int(ts.Weekday()) + 6) % 7
		out.OffHours = out.Hour < offHoursStart || out.Hour > offHoursEnd
	}
	return out
}
