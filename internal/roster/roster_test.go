package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestAddIdempotent(t *testing.T) {
	r := New(Participant{Name: "Planner"})
	if !r.Add(Participant{Name: "Researcher"}) {
		t.Error("adding a new participant should succeed")
	}
	if r.Add(Participant{Name: "Planner", Description: "duplicate"}) {
		t.Error("adding an existing name should be a no-op")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := New(Participant{Name: "A"}, Participant{Name: "B"})
	if !r.Remove("A") {
		t.Error("removing a present participant should succeed")
	}
	if r.Remove("A") {
		t.Error("removing an absent participant should be a no-op")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "B" {
		t.Errorf("Names = %v", names)
	}
}

func TestBroadcast(t *testing.T) {
	r := New()
	r.Broadcast("note one")
	r.Broadcast("   ")
	r.Broadcast("note two")
	notes := r.Notes()
	if len(notes) != 2 || notes[0] != "note one" || notes[1] != "note two" {
		t.Errorf("Notes = %v", notes)
	}
}

func TestFallback(t *testing.T) {
	r := Fallback("demo", 5)
	if _, ok := r.Get("Coordinator"); !ok {
		t.Error("fallback roster needs a coordinator")
	}
	if r.Len() < 2 {
		t.Errorf("fallback roster too small: %d", r.Len())
	}

	if Fallback("demo", 1).Len() < 2 {
		t.Error("fallback should always include at least one specialist")
	}
}

func TestScriptedSource(t *testing.T) {
	msgs := DemoScript("demo")
	src := NewScriptedSource(msgs)

	var got []Message
	for {
		m, ok := src.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, m)
	}
	if len(got) != len(msgs) {
		t.Fatalf("replayed %d messages, want %d", len(got), len(msgs))
	}
	if got[0].Sender != "Planner" {
		t.Errorf("first sender = %s", got[0].Sender)
	}
}

func TestScriptedSourceStopsOnCancel(t *testing.T) {
	src := NewScriptedSource(DemoScript("demo"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := src.Next(ctx); ok {
		t.Error("cancelled context should end the source")
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.yaml")
	content := `
task: review the login flow
participants:
  - name: Reviewer
    description: reviews code
messages:
  - sender: Reviewer
    recipient: Author
    content: "looks good: ship it"
`
	os.WriteFile(path, []byte(content), 0600)

	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if s.Task != "review the login flow" {
		t.Errorf("task = %q", s.Task)
	}
	if s.Messages[0].Content != "looks good: ship it" {
		t.Errorf("content = %q", s.Messages[0].Content)
	}
	r := s.Roster()
	if r == nil || r.Len() != 1 {
		t.Errorf("roster not built from script")
	}
}

func TestLoadScriptEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	os.WriteFile(path, []byte("task: x\n"), 0600)
	if _, err := LoadScript(path); err == nil {
		t.Error("expected error for script without messages")
	}
}
