package models

import (
	"fmt"
	"strings"
)

// ThreatLevel is an ordinal severity classification.
type ThreatLevel int

const (
	LevelInfo ThreatLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

// Levels returns every threat level in ascending order.
func Levels() []ThreatLevel {
	return []ThreatLevel{LevelInfo, LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

func (l ThreatLevel) String() string {
	if l < LevelInfo || l > LevelCritical {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseThreatLevel parses a level name, case-insensitively.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return ThreatLevel(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown threat level %q", s)
}

// MarshalText encodes the level as its upper-case name.
func (l ThreatLevel) MarshalText() ([]byte, error) {
	if l < LevelInfo || l > LevelCritical {
		return nil, fmt.Errorf("invalid threat level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name.
func (l *ThreatLevel) UnmarshalText(text []byte) error {
	v, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
