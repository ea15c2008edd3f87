package runner

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/verifier"
)

type stubGate struct {
	fn func(task, sender, recipient, message string) verifier.Verdict
}

func (g stubGate) Verify(ctx context.Context, task, sender, recipient, message string) verifier.Verdict {
	return g.fn(task, sender, recipient, message)
}

func passGate() stubGate {
	return stubGate{fn: func(task, sender, recipient, message string) verifier.Verdict {
		return verifier.Verdict{Verdict: verifier.VerdictPass, Confidence: 0.9, Reason: "On task", SuggestedActions: []string{}}
	}}
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestBroker(t *testing.T) *credentials.Store {
	t.Helper()
	s, err := credentials.NewStore(credentials.Options{Secret: "test-secret", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func firstIndex(evs []events.Event, kind events.Kind) int {
	for i, ev := range evs {
		if ev.Kind == kind {
			return i
		}
	}
	return -1
}

func TestRunnerCompletesDemoTask(t *testing.T) {
	r := New(Options{
		Task:   "Research API rate limiting",
		Owner:  "alice",
		Gate:   passGate(),
		Broker: newTestBroker(t),
		Logger: quietLogger(),
	})
	r.Run(context.Background())

	if got := r.State(); got != StateFinished {
		t.Fatalf("state = %q, want %q", got, StateFinished)
	}
	got := kinds(r.Sink().Drain())
	want := []events.Kind{
		events.KindInfo,
		events.KindAgentMessage, events.KindVerifierResult,
		events.KindAgentMessage, events.KindVerifierResult,
		events.KindAgentMessage, events.KindVerifierResult,
		events.KindFinished,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
}

// TestRunnerCredentialFlow runs the demo conversation with a verifier that
// flags the researcher's credential request, and a concurrent user supplying
// the secret. The task must pause, resume, and finish in order.
func TestRunnerCredentialFlow(t *testing.T) {
	broker := newTestBroker(t)
	gate := stubGate{fn: func(task, sender, recipient, message string) verifier.Verdict {
		if strings.Contains(message, "request_credential:github") {
			return verifier.Verdict{
				Verdict:          verifier.VerdictFail,
				Confidence:       0.9,
				Reason:           "Agent needs a credential",
				SuggestedActions: []string{"request_credential:github:access private repos to fetch examples"},
			}
		}
		return verifier.Verdict{Verdict: verifier.VerdictPass, Confidence: 0.9, Reason: "On task", SuggestedActions: []string{}}
	}}

	r := New(Options{
		Task:           "Research API rate limiting",
		Owner:          "alice",
		AutoApply:      true,
		Gate:           gate,
		Broker:         broker,
		Logger:         quietLogger(),
		CredentialWait: 5 * time.Second,
	})

	ch, cancel := r.Sink().Subscribe()
	defer cancel()
	r.Start(context.Background())

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
		if ev.Kind == events.KindInfo {
			if msg, _ := ev.Payload["msg"].(string); strings.HasPrefix(msg, "Execution paused") {
				if want := WaitingState("github"); r.State() != want {
					t.Errorf("state during wait = %q, want %q", r.State(), want)
				}
				broker.Set("alice", "github", "ghp_test_123")
			}
		}
	}
	<-r.Done()

	if got[len(got)-1].Kind != events.KindFinished {
		t.Fatalf("last event = %v, want finished", got[len(got)-1].Kind)
	}
	req := firstIndex(got, events.KindCredentialRequest)
	res := firstIndex(got, events.KindActionResult)
	if req < 0 || res < 0 || req >= res {
		t.Fatalf("want credential_request before action_result, got kinds %v", kinds(got))
	}
	failIdx := -1
	for i, ev := range got {
		if ev.Kind == events.KindVerifierResult && ev.Payload["verdict"] == verifier.VerdictFail {
			failIdx = i
			break
		}
	}
	if failIdx < 0 || failIdx >= req {
		t.Fatalf("want a fail verdict before the credential request, got kinds %v", kinds(got))
	}
	if provider := got[req].Payload["provider"]; provider != "github" {
		t.Fatalf("credential_request provider = %v", provider)
	}
	if detail := got[res].Payload["detail"]; detail != "Credential provided for github" {
		t.Fatalf("action_result detail = %v", detail)
	}
	if _, ok := broker.Get("alice", "github"); !ok {
		t.Fatalf("credential missing from broker after flow")
	}
	if got := r.State(); got != StateFinished {
		t.Fatalf("state = %q, want %q", got, StateFinished)
	}
}

func TestRunnerInlineKeyRequest(t *testing.T) {
	broker := newTestBroker(t)
	broker.Set("alice", "openai", "sk-already-there")

	src := roster.NewScriptedSource([]roster.Message{
		{Sender: "Coder", Recipient: "Planner", Content: "Calling the model now. REQUEST_API_KEY: openai"},
	})
	r := New(Options{
		Task:   "Summarize the design doc",
		Owner:  "alice",
		Gate:   passGate(),
		Broker: broker,
		Source: src,
		Logger: quietLogger(),
	})
	r.Run(context.Background())

	evs := r.Sink().Drain()
	if idx := firstIndex(evs, events.KindCredentialRequest); idx != -1 {
		t.Fatalf("unexpected credential_request for a provider already on file")
	}
	res := firstIndex(evs, events.KindActionResult)
	if res < 0 {
		t.Fatalf("no action_result emitted, kinds %v", kinds(evs))
	}
	if detail := evs[res].Payload["detail"]; detail != "Credential for openai already available" {
		t.Fatalf("action_result detail = %v", detail)
	}
	// The marker must be handled before the verifier sees the message.
	msg := firstIndex(evs, events.KindAgentMessage)
	ver := firstIndex(evs, events.KindVerifierResult)
	if !(msg < res && res < ver) {
		t.Fatalf("want agent_message < action_result < verifier_result, got kinds %v", kinds(evs))
	}
}

func TestRunnerStopBeforeStart(t *testing.T) {
	r := New(Options{
		Task:   "anything",
		Owner:  "alice",
		Gate:   passGate(),
		Broker: newTestBroker(t),
		Logger: quietLogger(),
	})
	r.Stop()
	r.Run(context.Background())

	if got := r.State(); got != StateStopped {
		t.Fatalf("state = %q, want %q", got, StateStopped)
	}
	evs := r.Sink().Drain()
	if evs[len(evs)-1].Kind != events.KindFinished {
		t.Fatalf("last event = %v, want finished", evs[len(evs)-1].Kind)
	}
	if firstIndex(evs, events.KindAgentMessage) != -1 {
		t.Fatalf("no messages should be processed after stop")
	}
}

func TestRunnerStopMidConversation(t *testing.T) {
	var r *Runner
	gate := stubGate{fn: func(task, sender, recipient, message string) verifier.Verdict {
		r.Stop()
		return verifier.Verdict{Verdict: verifier.VerdictPass, Confidence: 0.9, Reason: "ok", SuggestedActions: []string{}}
	}}
	r = New(Options{
		Task:   "Research API rate limiting",
		Owner:  "alice",
		Gate:   gate,
		Broker: newTestBroker(t),
		Logger: quietLogger(),
	})
	r.Run(context.Background())

	if got := r.State(); got != StateStopped {
		t.Fatalf("state = %q, want %q", got, StateStopped)
	}
	evs := r.Sink().Drain()
	msgs := 0
	for _, ev := range evs {
		if ev.Kind == events.KindAgentMessage {
			msgs++
		}
	}
	if msgs != 1 {
		t.Fatalf("processed %d messages after stop request, want 1", msgs)
	}
}

type failingBuilder struct{}

func (failingBuilder) Build(ctx context.Context, task string, maxAgents int) (*roster.Roster, error) {
	return nil, context.DeadlineExceeded
}

func TestRunnerFallbackRoster(t *testing.T) {
	r := New(Options{
		Task:    "anything",
		Owner:   "alice",
		Gate:    passGate(),
		Broker:  newTestBroker(t),
		Builder: failingBuilder{},
		Logger:  quietLogger(),
	})
	if _, ok := r.Roster().Get("Coordinator"); !ok {
		t.Fatalf("fallback roster missing Coordinator, have %v", r.Roster().Names())
	}
	evs := r.Sink().Drain()
	if len(evs) == 0 || evs[0].Kind != events.KindInfo {
		t.Fatalf("want an info event reporting the failed build, got %v", kinds(evs))
	}
}

func TestExtractKeyRequests(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "plain message", nil},
		{"request marker", "need it: REQUEST_API_KEY: github", []string{"github"}},
		{"need marker", "NEED_API_KEY:openai please", []string{"openai"}},
		{"case and spacing", "request_api_key :  Stripe", []string{"stripe"}},
		{"dedup across markers", "REQUEST_API_KEY: github and NEED_API_KEY: github", []string{"github"}},
		{"multiple providers", "REQUEST_API_KEY: github REQUEST_API_KEY: openai", []string{"github", "openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractKeyRequests(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("extractKeyRequests(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	r := New(Options{
		Task:   "anything",
		Owner:  "alice",
		Gate:   passGate(),
		Broker: newTestBroker(t),
		Logger: quietLogger(),
	})
	reg.Start(context.Background(), r)
	<-r.Done()

	got, ok := reg.Get(r.ID)
	if !ok || got != r {
		t.Fatalf("Get(%q) = %v, %v", r.ID, got, ok)
	}
	if reg.Stop("no-such-task") {
		t.Fatalf("Stop on unknown id reported true")
	}
	if !reg.Stop(r.ID) {
		t.Fatalf("Stop on known id reported false")
	}
	if ids := reg.IDs(); len(ids) != 1 || ids[0] != r.ID {
		t.Fatalf("IDs() = %v", ids)
	}
}
