package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/verifier"
)

// ErrCredentialTimeout ends the task: a credential the conversation needs
// never arrived. It is the only fatal outcome of applying actions.
var ErrCredentialTimeout = errors.New("timed out waiting for credential")

// Applicator applies a verdict's suggested actions to a task's roster and
// conversation. It runs on the task's own goroutine; the broker is the only
// shared state it touches.
type Applicator struct {
	Roster      *roster.Roster
	Broker      *credentials.Store
	Sink        *events.Sink
	Logger      *logging.Logger
	Owner       string
	WaitTimeout time.Duration

	// State hooks, wired by the task runner.
	OnWaitingForCredential func(provider string)
	OnResumed              func()

	// Provided collects credentials obtained during this task.
	Provided map[string]string
}

// Apply applies each suggested action in list order. One action's failure is
// reported and the rest still run; only a credential timeout aborts, and it
// is returned for the runner to terminate the task. The verdict's prompt
// patch, when present, is broadcast regardless of the action list.
func (a *Applicator) Apply(ctx context.Context, v verifier.Verdict) error {
	if a.Provided == nil {
		a.Provided = make(map[string]string)
	}
	for _, raw := range v.SuggestedActions {
		if err := a.applyOne(ctx, raw); err != nil {
			if errors.Is(err, ErrCredentialTimeout) {
				return err
			}
			a.emit(events.KindActionResult, map[string]interface{}{
				"action": raw,
				"detail": fmt.Sprintf("Action failed: %v", err),
			})
		}
	}
	if v.PatchForAgent != "" {
		a.Roster.Broadcast("Verifier patch: " + v.PatchForAgent)
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": string(VerbModifyPrompt),
			"detail": "Verdict patch injected as broadcast instruction",
		})
	}
	return nil
}

func (a *Applicator) applyOne(ctx context.Context, raw string) error {
	act, err := Parse(raw)
	if errors.Is(err, ErrUnknownVerb) {
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": raw,
			"detail": "Action noted",
		})
		return nil
	}
	if err != nil {
		return err
	}

	switch act.Verb {
	case VerbAddAgent:
		name, description := act.Args[0], act.Args[1]
		if a.Roster.Add(roster.Participant{Name: name, Description: description}) {
			a.emit(events.KindActionResult, map[string]interface{}{
				"action": string(VerbAddAgent),
				"detail": fmt.Sprintf("Added agent %s", name),
			})
		} else {
			a.emit(events.KindActionResult, map[string]interface{}{
				"action": string(VerbAddAgent),
				"detail": fmt.Sprintf("Agent %s already present", name),
			})
		}
	case VerbRemoveAgent:
		name := act.Args[0]
		removed := a.Roster.Remove(name)
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": string(VerbRemoveAgent),
			"detail": fmt.Sprintf("remove_agent %s: present=%t", name, removed),
		})
	case VerbModifyPrompt:
		a.Roster.Broadcast("Verifier patch: " + act.Args[0])
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": string(VerbModifyPrompt),
			"detail": "Patch injected as broadcast instruction",
		})
	case VerbRequestCredential:
		return a.requestCredential(ctx, act.Args[0], act.Args[1])
	default:
		// Advisory verbs surface to the operator; no mechanical effect.
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": string(act.Verb),
			"detail": "Advisory action recorded",
		})
	}
	return nil
}

// RequestCredential runs the credential-request flow directly, used both for
// the request_credential action and for inline key-request markers found in
// message text.
func (a *Applicator) RequestCredential(ctx context.Context, provider, reason string) error {
	return a.requestCredential(ctx, provider, reason)
}

func (a *Applicator) requestCredential(ctx context.Context, provider, reason string) error {
	if a.Provided == nil {
		a.Provided = make(map[string]string)
	}
	if a.Broker.Has(a.Owner, provider) {
		a.emit(events.KindActionResult, map[string]interface{}{
			"action": string(VerbRequestCredential),
			"detail": fmt.Sprintf("Credential for %s already available", provider),
		})
		return nil
	}

	requestID := uuid.NewString()
	a.emit(events.KindCredentialRequest, map[string]interface{}{
		"request_id":  requestID,
		"provider":    provider,
		"description": reason,
		"user_id":     a.Owner,
		"sensitivity": "high",
	})
	if a.OnWaitingForCredential != nil {
		a.OnWaitingForCredential(provider)
	}
	a.emit(events.KindInfo, map[string]interface{}{
		"msg": fmt.Sprintf("Execution paused waiting credential for %s", provider),
	})
	a.log().Info("waiting for credential", map[string]interface{}{
		"provider":   provider,
		"request_id": requestID,
	})

	value, ok := a.Broker.WaitFor(ctx, a.Owner, provider, a.WaitTimeout)
	if !ok {
		a.emit(events.KindError, map[string]interface{}{
			"msg": fmt.Sprintf("Timeout waiting credential for %s", provider),
		})
		return fmt.Errorf("%w: %s", ErrCredentialTimeout, provider)
	}

	a.Provided[provider] = value
	if a.OnResumed != nil {
		a.OnResumed()
	}
	a.emit(events.KindInfo, map[string]interface{}{
		"msg": fmt.Sprintf("Credential for %s received. Resuming execution.", provider),
	})
	a.emit(events.KindActionResult, map[string]interface{}{
		"action": string(VerbRequestCredential),
		"detail": fmt.Sprintf("Credential provided for %s", provider),
	})
	a.Roster.Broadcast(fmt.Sprintf("System notice: the %s credential is now available.", provider))
	return nil
}

func (a *Applicator) emit(kind events.Kind, payload map[string]interface{}) {
	a.Sink.Publish(events.New(kind, payload))
}

func (a *Applicator) log() *logging.Logger {
	if a.Logger == nil {
		a.Logger = logging.New().WithComponent("actions")
	}
	return a.Logger
}
