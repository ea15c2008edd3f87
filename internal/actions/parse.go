// Package actions interprets the verifier's suggested actions and applies
// them to a task's live roster and conversation.
package actions

import (
	"errors"
	"fmt"
	"strings"
)

// Verb is one of the closed vocabulary of action verbs.
type Verb string

const (
	VerbModifyPrompt        Verb = "modify_agent_system_prompt"
	VerbAddAgent            Verb = "add_agent"
	VerbRemoveAgent         Verb = "remove_agent"
	VerbRequestCredential   Verb = "request_credential"
	VerbRequestReferences   Verb = "request_references"
	VerbReduceTemperature   Verb = "reduce_temperature"
	VerbIncreaseTemperature Verb = "increase_temperature"
)

// Parse failure classes. Unknown verbs are noted and carried on, never
// treated as task errors; malformed known verbs are reported per-action.
var (
	ErrUnknownVerb = errors.New("unknown action verb")
	ErrMalformed   = errors.New("malformed action")
)

// arity maps each verb to its argument count. Splitting uses SplitN with
// the final argument absorbing any embedded colons, so a description like
// "fetch: private repos" survives parsing intact.
var arity = map[Verb]int{
	VerbModifyPrompt:        1,
	VerbAddAgent:            2,
	VerbRemoveAgent:         1,
	VerbRequestCredential:   2,
	VerbRequestReferences:   0,
	VerbReduceTemperature:   0,
	VerbIncreaseTemperature: 0,
}

// Action is a parsed suggested action.
type Action struct {
	Verb Verb
	Args []string
	Raw  string
}

// Parse splits a raw "verb:arg1:arg2" string into a typed Action.
func Parse(raw string) (Action, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Action{Raw: raw}, fmt.Errorf("%w: empty action", ErrMalformed)
	}

	head := trimmed
	rest := ""
	if i := strings.Index(trimmed, ":"); i >= 0 {
		head, rest = trimmed[:i], trimmed[i+1:]
	}
	verb := Verb(strings.TrimSpace(head))

	n, known := arity[verb]
	if !known {
		return Action{Raw: raw}, fmt.Errorf("%w: %q", ErrUnknownVerb, head)
	}

	if n == 0 {
		return Action{Verb: verb, Raw: raw}, nil
	}

	parts := strings.SplitN(rest, ":", n)
	args := make([]string, 0, n)
	for _, p := range parts {
		args = append(args, strings.TrimSpace(p))
	}
	if len(args) < n {
		return Action{Verb: verb, Raw: raw}, fmt.Errorf("%w: %s needs %d argument(s)", ErrMalformed, verb, n)
	}
	// Every argument is mandatory: a trailing empty description is as
	// malformed as a missing one.
	for _, a := range args {
		if a == "" {
			return Action{Verb: verb, Raw: raw}, fmt.Errorf("%w: %s needs %d non-empty argument(s)", ErrMalformed, verb, n)
		}
	}
	return Action{Verb: verb, Args: args, Raw: raw}, nil
}
