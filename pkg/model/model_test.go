package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDictionaryEntryJSON(t *testing.T) {
	e := DictionaryEntry{Spanish: "Hola", English: "Hello", DateAdded: 1700000000000}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// Stored lists must stay readable by the browser journal.
	if !strings.Contains(string(b), `"dateAdded":1700000000000`) {
		t.Errorf("unexpected encoding: %s", b)
	}
}

func TestFeedbackPlaceholderOmitted(t *testing.T) {
	b, _ := json.Marshal(Feedback{Score: 70})
	if strings.Contains(string(b), "placeholder") {
		t.Errorf("placeholder should be omitted when false: %s", b)
	}
}
