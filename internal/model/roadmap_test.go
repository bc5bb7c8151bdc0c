package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRoadmap_RejectsNonArray(t *testing.T) {
	for _, raw := range []string{`{"type":"TOPIC"}`, `"x"`, `null`, `42`, ``} {
		_, ok := SanitizeRoadmap([]byte(raw))
		assert.False(t, ok, raw)
	}
}

func TestSanitizeRoadmap_FiltersMalformedEntries(t *testing.T) {
	raw := `[
		{"type":"TOPIC","name":"Algebra","subtopics":[
			{"type":"SUBTOPIC","name":"Linear Equations"},
			{"type":"SUBTOPIC","name":"   "},
			{"type":"NOTE","name":"skip"},
			{"type":"SUBTOPIC","name":7}
		]},
		{"type":"TOPIC","name":""},
		{"name":"no type"},
		{"type":"TOPIC","name":123},
		"string element",
		{"type":"TOPIC","name":" Geometry "}
	]`

	plan, ok := SanitizeRoadmap([]byte(raw))
	require.True(t, ok)
	require.Len(t, plan, 2)
	assert.Equal(t, "Algebra", plan[0].Name)
	require.Len(t, plan[0].Subtopics, 1)
	assert.Equal(t, "Linear Equations", plan[0].Subtopics[0].Name)
	assert.Equal(t, "Geometry", plan[1].Name)
	assert.Empty(t, plan[1].Subtopics)
}

func TestSanitizeRoadmap_EmptyArray(t *testing.T) {
	plan, ok := SanitizeRoadmap([]byte(`[]`))
	assert.True(t, ok)
	assert.Empty(t, plan)
}

func TestRoadmap_Sanitize(t *testing.T) {
	r := Roadmap{
		{Type: NodeTypeTopic, Name: "A", Subtopics: []RoadmapSubtopic{{Type: NodeTypeSubtopic, Name: "a1"}, {Type: NodeTypeSubtopic}}},
		{Type: "OTHER", Name: "B"},
	}
	out := r.Sanitize()
	require.Len(t, out, 1)
	assert.Len(t, out[0].Subtopics, 1)
}
