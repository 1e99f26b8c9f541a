package api

import (
	"testing"
)

func TestFormatLogLine(t *testing.T) {
	input := `time=2026-03-18T06:50:46.074+01:00 level=INFO msg="Playback: attempt scored" line=la-maleta-1 score=82 placeholder=false path=/home/learner/.local/share/slowburn/data.db`
	expected := "06:50:46 Playback: attempt scored (line=la-maleta-1, placeholder=false, score=82)"

	result := formatLogLine(input)
	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestFormatLogLine_Unstructured(t *testing.T) {
	if got := formatLogLine("plain text"); got != "plain text" {
		t.Errorf("unexpected %q", got)
	}
}
