package roster

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Message is one utterance exchanged between two participants.
type Message struct {
	Sender    string `yaml:"sender"`
	Recipient string `yaml:"recipient"`
	Content   string `yaml:"content"`
}

// Source produces the next message of a conversation. ok=false means the
// conversation is over. Implementations back onto whatever chat engine the
// host wires in; the orchestrator only ever consumes this interface.
type Source interface {
	Next(ctx context.Context) (Message, bool)
}

// Builder constructs an initial roster for a task. May fail; callers fall
// back to Fallback.
type Builder interface {
	Build(ctx context.Context, task string, maxAgents int) (*Roster, error)
}

// ScriptedSource replays a fixed message list. Used for demos and tests,
// and as the fallback conversation when no chat engine is available.
type ScriptedSource struct {
	messages []Message
	pos      int
}

// NewScriptedSource builds a source over the given messages.
func NewScriptedSource(messages []Message) *ScriptedSource {
	return &ScriptedSource{messages: messages}
}

// Next returns the next scripted message.
func (s *ScriptedSource) Next(ctx context.Context) (Message, bool) {
	if ctx.Err() != nil || s.pos >= len(s.messages) {
		return Message{}, false
	}
	m := s.messages[s.pos]
	s.pos++
	return m, true
}

// DemoScript is the built-in simulated conversation: a planner breakdown,
// a researcher needing a private credential, and a final answer.
func DemoScript(task string) []Message {
	return []Message{
		{
			Sender:    "Planner",
			Recipient: "Researcher",
			Content:   fmt.Sprintf("Task breakdown for: %s", task),
		},
		{
			Sender:    "Researcher",
			Recipient: "Planner",
			Content:   "I may need private GitHub examples. request_credential:github:access private repos to fetch examples",
		},
		{
			Sender:    "Writer",
			Recipient: "User",
			Content:   "Done. Here are 3 trusted public sources about API rate limiting.",
		},
	}
}

// Script is a yaml-defined conversation: a roster plus the messages to
// replay through it.
type Script struct {
	Task         string        `yaml:"task"`
	Participants []Participant `yaml:"participants"`
	Messages     []Message     `yaml:"messages"`
}

// LoadScript reads a conversation script from a yaml file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Messages) == 0 {
		return nil, fmt.Errorf("script %s has no messages", path)
	}
	return &s, nil
}

// Roster returns the script's participants as a roster, or nil when the
// script declares none.
func (s *Script) Roster() *Roster {
	if len(s.Participants) == 0 {
		return nil
	}
	return New(s.Participants...)
}

// StaticBuilder satisfies Builder with a fixed roster.
type StaticBuilder struct {
	R *Roster
}

// Build returns the fixed roster.
func (b StaticBuilder) Build(ctx context.Context, task string, maxAgents int) (*Roster, error) {
	return b.R, nil
}
