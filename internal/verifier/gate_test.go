package verifier

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/logging"
)

// fakeJudge is the test double for the judge capability.
type fakeJudge struct {
	calls   atomic.Int64
	replies []string
	err     error
}

func (f *fakeJudge) Complete(_ context.Context, _, _ string) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if f.err != nil {
		return "", f.err
	}
	if n < len(f.replies) {
		return f.replies[n], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func newTestGate(j Judge, opts GateOptions) *Gate {
	opts.Judge = j
	if opts.Logger == nil {
		l := logging.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	g := NewGate(opts)
	g.sleep = func(time.Duration) {}
	return g
}

func TestVerifyHappyPath(t *testing.T) {
	j := &fakeJudge{replies: []string{`{"verdict":"fail","confidence":0.9,"reason":"irrelevant","suggested_actions":["request_references"]}`}}
	g := newTestGate(j, GateOptions{})

	v := g.Verify(context.Background(), "demo", "Planner", "Researcher", "hello")
	if v.Verdict != VerdictFail || v.Confidence != 0.9 {
		t.Errorf("unexpected verdict: %+v", v)
	}
	if len(v.SuggestedActions) != 1 || v.SuggestedActions[0] != "request_references" {
		t.Errorf("actions not carried: %v", v.SuggestedActions)
	}
	if j.calls.Load() != 1 {
		t.Errorf("judge called %d times, want 1", j.calls.Load())
	}
}

func TestVerifyParseFallback(t *testing.T) {
	j := &fakeJudge{replies: []string{"I think this fails."}}
	g := newTestGate(j, GateOptions{})

	v := g.Verify(context.Background(), "demo", "a", "b", "msg")
	if v.Verdict != VerdictFail {
		t.Errorf("unparsable output should yield fail, got %q", v.Verdict)
	}
	if !strings.Contains(v.Reason, "parsed") {
		t.Errorf("reason should cite the parse failure, got %q", v.Reason)
	}
}

func TestVerifyRetriesThenFailsOpen(t *testing.T) {
	j := &fakeJudge{err: errors.New("connection refused")}
	g := newTestGate(j, GateOptions{MaxRetries: 3, BreakerThreshold: 10})

	v := g.Verify(context.Background(), "demo", "a", "b", "msg")
	if v.Verdict != VerdictPass {
		t.Errorf("retry exhaustion should fail open, got %q", v.Verdict)
	}
	if v.Confidence >= 0.5 {
		t.Errorf("fallback confidence should be low, got %v", v.Confidence)
	}
	if !strings.Contains(v.Reason, "unavailable") {
		t.Errorf("reason should cite unavailability, got %q", v.Reason)
	}
	if j.calls.Load() != 3 {
		t.Errorf("judge called %d times, want 3", j.calls.Load())
	}
}

func TestVerifyBreakerShortCircuits(t *testing.T) {
	j := &fakeJudge{err: errors.New("boom")}
	g := newTestGate(j, GateOptions{MaxRetries: 1, BreakerThreshold: 3})

	// Three failing calls open the breaker.
	for i := 0; i < 3; i++ {
		g.Verify(context.Background(), "demo", "a", "b", "msg")
	}
	before := j.calls.Load()

	v := g.Verify(context.Background(), "demo", "a", "b", "msg")
	if j.calls.Load() != before {
		t.Error("breaker open: judge must not be called")
	}
	if v.Verdict != VerdictPass {
		t.Errorf("breaker-open verdict should be pass, got %q", v.Verdict)
	}
	if !strings.Contains(v.Reason, "circuit breaker") {
		t.Errorf("reason should note the skip, got %q", v.Reason)
	}
}

func TestVerifyBreakerRecoversAfterCooldown(t *testing.T) {
	j := &fakeJudge{err: errors.New("boom")}
	g := newTestGate(j, GateOptions{MaxRetries: 1, BreakerThreshold: 2, BreakerCooldown: time.Minute})

	now := time.Now()
	g.breaker.now = func() time.Time { return now }

	g.Verify(context.Background(), "demo", "a", "b", "msg")
	g.Verify(context.Background(), "demo", "a", "b", "msg")
	before := j.calls.Load()

	// Still open: no call.
	g.Verify(context.Background(), "demo", "a", "b", "msg")
	if j.calls.Load() != before {
		t.Fatal("judge called while breaker open")
	}

	// Cooldown elapses; the judge recovers; trial succeeds.
	now = now.Add(2 * time.Minute)
	j.err = nil
	j.replies = []string{`{"verdict":"pass","confidence":1,"reason":"ok"}`}
	v := g.Verify(context.Background(), "demo", "a", "b", "msg")
	if j.calls.Load() != before+1 {
		t.Error("trial call should reach the judge after cooldown")
	}
	if v.Verdict != VerdictPass || v.Confidence != 1 {
		t.Errorf("unexpected trial verdict: %+v", v)
	}
}

func TestVerifyDevMode(t *testing.T) {
	j := &fakeJudge{err: errors.New("must not be called")}
	g := newTestGate(j, GateOptions{DevMode: true})

	v := g.Verify(context.Background(), "demo", "a", "b", "msg")
	if v.Verdict != VerdictPass {
		t.Errorf("dev mode should pass, got %q", v.Verdict)
	}
	if j.calls.Load() != 0 {
		t.Error("dev mode must not call the judge")
	}
}

func TestBuildUserPromptEmbedsContext(t *testing.T) {
	p := buildUserPrompt("demo task", "Planner", "Researcher", "the message")
	for _, want := range []string{"demo task", "Planner", "Researcher", "the message", "request_credential"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
