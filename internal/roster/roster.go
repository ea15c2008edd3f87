// Package roster models the conversational participants of a task and the
// messages they exchange. Building a real multi-agent chat is an external
// capability; this package owns the roster state the orchestrator mutates
// and the seam (Source) through which messages arrive.
package roster

import (
	"fmt"
	"strings"
)

// Participant is one conversational agent in a task.
type Participant struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Roster is the live set of participants plus the shared system notes
// broadcast into the conversation. A roster belongs to exactly one task and
// is only ever mutated from that task's goroutine.
type Roster struct {
	participants []Participant
	notes        []string
}

// New builds a roster from the given participants.
func New(participants ...Participant) *Roster {
	r := &Roster{}
	for _, p := range participants {
		r.Add(p)
	}
	return r
}

// Fallback returns the minimal fixed roster used when roster building fails
// or no roster is supplied: one coordinator plus general-purpose specialists.
func Fallback(task string, maxAgents int) *Roster {
	r := New(Participant{
		Name:        "Coordinator",
		Description: "Coordinates the team working on: " + task,
	})
	specialists := maxAgents - 1
	if specialists < 1 {
		specialists = 1
	}
	if specialists > 2 {
		specialists = 2
	}
	for i := 1; i <= specialists; i++ {
		r.Add(Participant{
			Name:        fmt.Sprintf("Specialist%d", i),
			Description: "General-purpose specialist working on: " + task,
		})
	}
	return r
}

// Add appends a participant unless one with the same name exists.
// Returns false on the no-op.
func (r *Roster) Add(p Participant) bool {
	if _, ok := r.Get(p.Name); ok {
		return false
	}
	r.participants = append(r.participants, p)
	return true
}

// Remove drops the named participant. Returns false when absent.
func (r *Roster) Remove(name string) bool {
	for i, p := range r.participants {
		if p.Name == name {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the named participant.
func (r *Roster) Get(name string) (Participant, bool) {
	for _, p := range r.participants {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}

// Names returns participant names in roster order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.participants))
	for i, p := range r.participants {
		names[i] = p.Name
	}
	return names
}

// Len returns the participant count.
func (r *Roster) Len() int {
	return len(r.participants)
}

// Broadcast injects a system-level note into the shared conversation
// history, visible to every participant on subsequent turns.
func (r *Roster) Broadcast(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	r.notes = append(r.notes, note)
}

// Notes returns the broadcast notes in injection order.
func (r *Roster) Notes() []string {
	return r.notes
}
