package honeypot

import (
	"fmt"
	"strings"

	"threatshield/pkg/models"
)

var (
	webTools = []string{"sqlmap", "nikto", "dirb"}
	apiTools = []string{"burp", "zap"}
)

// Select chooses decoy types from an attacker's observed vectors and tools.
// It is pure and independent of set iteration order.
func Select(vectors, tools models.StringSet) models.HoneypotSet {
	out := models.HoneypotSet{}
	if tools.HasAny(webTools...) {
		out[models.HoneypotWeb] = struct{}{}
	}
	if tools.Has("sqlmap") || vectors.Has("database") {
		out[models.HoneypotDatabase] = struct{}{}
	}
	if vectors.Has("data_access") {
		out[models.HoneypotFileStore] = struct{}{}
	}
	if vectors.Has("api") || tools.HasAny(apiTools...) {
		out[models.HoneypotAPI] = struct{}{}
	}
	return out
}

// Reason renders a human-readable deployment reason.
func Reason(vectors, tools models.StringSet) string {
	parts := make([]string, 0, 2)
	if len(vectors) > 0 {
		parts = append(parts, fmt.Sprintf("Attack vectors: %s", strings.Join(vectors.Sorted(), ", ")))
	}
	if len(tools) > 0 {
		parts = append(parts, fmt.Sprintf("Tools detected: %s", strings.Join(tools.Sorted(), ", ")))
	}
	if len(parts) == 0 {
		return "General threat pattern detected"
	}
	return strings.Join(parts, "; ")
}
