package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreatLevelOrderingAndNames(t *testing.T) {
	levels := Levels()
	for i := 1; i < len(levels); i++ {
		assert.Less(t, levels[i-1], levels[i])
	}

	lvl, err := ParseThreatLevel(" critical ")
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, lvl)

	_, err = ParseThreatLevel("SEVERE")
	assert.Error(t, err)

	_, err = ThreatLevel(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "LEVEL(9)", ThreatLevel(9).String())

	var history []ThreatLevel
	require.NoError(t, json.Unmarshal([]byte(`["LOW","HIGH"]`), &history))
	assert.Equal(t, []ThreatLevel{LevelLow, LevelHigh}, history)
}

func TestStringSetSemantics(t *testing.T) {
	s := NewStringSet("b", "", "a", "b")
	assert.Len(t, s, 2)
	assert.True(t, s.HasAny("z", "a"))
	assert.True(t, s.Union(NewStringSet("c")).Contains(s))
	assert.False(t, s.Contains(NewStringSet("c")))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, string(data))

	var empty StringSet
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestParseThreatCategory(t *testing.T) {
	c, err := ParseThreatCategory("Brute_Force")
	require.NoError(t, err)
	assert.Equal(t, CategoryBruteForce, c)

	_, err = ParseThreatCategory("cryptomining")
	assert.Error(t, err)
}

func TestAttackerKey(t *testing.T) {
	var nilEvent *ObservedEvent
	assert.Equal(t, UnknownAttacker, nilEvent.AttackerKey())
	assert.Equal(t, "203.0.113.25", (&ObservedEvent{SourceAddress: " 203.0.113.25 ", ActorIdentity: "arn:x"}).AttackerKey())
	assert.Equal(t, "arn:x", (&ObservedEvent{ActorIdentity: "arn:x"}).AttackerKey())
	assert.Equal(t, UnknownAttacker, (&ObservedEvent{}).AttackerKey())
}

func TestParamRendering(t *testing.T) {
	e := &ObservedEvent{RawParameters: map[string]interface{}{
		"bucket": "logs", "count": float64(3), "ratio": 0.5, "force": true, "none": nil,
	}}
	assert.Equal(t, "logs", e.Param("bucket"))
	assert.Equal(t, "3", e.Param("count"))
	assert.Equal(t, "0.500000", e.Param("ratio"))
	assert.Equal(t, "true", e.Param("force"))
	assert.Equal(t, "", e.Param("none"))
	assert.Equal(t, "", e.Param("missing"))
}

func TestActionRequestValidate(t *testing.T) {
	valid := &ActionRequest{ID: "a", Kind: ActionPersistIntelligence,
		PersistIntelligence: &PersistIntelligence{Record: &IntelligenceRecord{ID: "r"}}}
	assert.NoError(t, valid.Validate())

	cases := map[string]*ActionRequest{
		"nil":            nil,
		"no payload":     {ID: "a", Kind: ActionAdaptHoneypots},
		"wrong payload":  {ID: "a", Kind: ActionAdaptHoneypots, EscalateDeepAnalysis: &EscalateDeepAnalysis{}},
		"two payloads":   {ID: "a", Kind: ActionAdaptHoneypots, AdaptHoneypots: &AdaptHoneypots{}, EscalateDeepAnalysis: &EscalateDeepAnalysis{}},
		"unknown kind":   {ID: "a", Kind: "reboot", AdaptHoneypots: &AdaptHoneypots{}},
		"missing record": {ID: "a", Kind: ActionPersistIntelligence, PersistIntelligence: &PersistIntelligence{}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, req.Validate())
		})
	}
}

func TestProfileCloneIsDeep(t *testing.T) {
	p := &AttackerProfile{
		Key:                "k",
		FirstSeen:          time.Unix(0, 0),
		Vectors:            NewStringSet("api"),
		Tools:              NewStringSet("burp"),
		ThreatLevelHistory: []ThreatLevel{LevelLow},
	}
	c := p.Clone()
	c.Vectors.Add("database")
	c.ThreatLevelHistory[0] = LevelCritical

	assert.False(t, p.Vectors.Has("database"))
	assert.Equal(t, LevelLow, p.ThreatLevelHistory[0])
	assert.Nil(t, (*AttackerProfile)(nil).Clone())
}
