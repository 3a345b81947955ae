package semantic

import (
	"strings"
	"time"
	"unicode/utf8"

	"threatshield/pkg/models"
)

const (
	maxFieldRunes  = 256
	maxPromptBytes = 4096
)

const promptHeader = `You are a cybersecurity threat analyst. Analyze the following AWS CloudTrail event for potential security threats.

Event Details:
`

const promptFooter = `
Analyze this event and respond with a JSON object containing:
1. "threat_categories": list of categories this event might belong to (reconnaissance, brute_force, data_exfiltration, privilege_escalation, persistence, lateral_movement, command_control, exfiltration, impact)
2. "confidence": confidence score (0-100) in your assessment
3. "reasoning": brief explanation of your analysis
4. "risk_score": overall risk score (0-10)

Consider whether this is normal administrative activity, whether there are indicators of reconnaissance, attack or data theft, whether timing or source is unusual, and whether errors suggest failed attacks.

Respond only with valid JSON.
`

// BuildPrompt renders the classifier prompt for an event. Every field is
// truncated and flattened to one line, and the result never exceeds 4 KiB.
func BuildPrompt(event *models.ObservedEvent) string {
	if event == nil {
		event = &models.ObservedEvent{}
	}
	ts := ""
	if !event.Timestamp.IsZero() {
		ts = event.Timestamp.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	writeField(&b, "Event Name", event.Name)
	writeField(&b, "Source IP", event.SourceAddress)
	writeField(&b, "User Agent", event.UserAgent)
	writeField(&b, "Event Time", ts)
	writeField(&b, "AWS Region", event.Region)
	writeField(&b, "Error Code", event.ErrorCode)
	writeField(&b, "Error Message", event.ErrorMessage)

	// Multi-byte fields can still overflow; the details block gives way first.
	details := truncateBytes(b.String(), maxPromptBytes-len(promptHeader)-len(promptFooter))
	return promptHeader + details + promptFooter
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString("- ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(sanitize(value))
	b.WriteByte('\n')
}

func sanitize(value string) string {
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(value) <= maxFieldRunes {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxFieldRunes])
}

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
