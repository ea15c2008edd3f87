// Package runner drives one verified multi-agent task end to end: it owns
// the produce -> verify -> apply loop and the task's event stream.
package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/actions"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/verifier"
)

// Task states. The waiting state carries the provider it is blocked on.
const (
	StateInit     = "INIT"
	StateRunning  = "RUNNING"
	StateFinished = "FINISHED"
	StateStopped  = "STOPPED"
)

// WaitingState names the state for a pending credential.
func WaitingState(provider string) string {
	return "WAITING_FOR_CREDENTIAL:" + provider
}

// Verifier is the gate capability the runner calls for every message.
// *verifier.Gate is the production implementation.
type Verifier interface {
	Verify(ctx context.Context, task, sender, recipient, message string) verifier.Verdict
}

// inlineKeyRequests match key-request markers agents embed in message text.
var inlineKeyRequests = []*regexp.Regexp{
	regexp.MustCompile(`(?i)REQUEST_API_KEY\s*:\s*([a-zA-Z0-9_\-]+)`),
	regexp.MustCompile(`(?i)NEED_API_KEY\s*:\s*([a-zA-Z0-9_\-]+)`),
}

// extractKeyRequests returns the providers named by inline markers,
// lowercased and deduplicated in order of first appearance.
func extractKeyRequests(message string) []string {
	var found []string
	seen := map[string]bool{}
	for _, p := range inlineKeyRequests {
		for _, m := range p.FindAllStringSubmatch(message, -1) {
			name := strings.ToLower(strings.TrimSpace(m[1]))
			if name != "" && !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	return found
}

// Options configures a task runner.
type Options struct {
	Task      string
	Owner     string
	AutoApply bool
	MaxAgents int

	Gate   Verifier
	Broker *credentials.Store
	Sink   *events.Sink
	Logger *logging.Logger

	// Builder constructs the initial roster; on nil or failure the minimal
	// fixed roster is used.
	Builder roster.Builder
	// Source produces the conversation; nil means the built-in demo script.
	Source roster.Source

	CredentialWait time.Duration
	// EventBuffer bounds the sink when the runner creates one itself.
	EventBuffer int
}

// Runner executes one task on its own goroutine. State is written only by
// that goroutine and read by external callers deciding whether a stop
// request is meaningful.
type Runner struct {
	ID    string
	Owner string

	task      string
	autoApply bool

	gate   Verifier
	broker *credentials.Store
	sink   *events.Sink
	logger *logging.Logger
	source roster.Source
	roster *roster.Roster
	apply  *actions.Applicator

	mu    sync.RWMutex
	state string

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New builds a runner, constructing the roster up front so a failed build
// surfaces as an informational event before the first message.
func New(opts Options) *Runner {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	logger = logger.WithComponent("runner").WithTaskID(id)

	sink := opts.Sink
	if sink == nil {
		sink = events.NewSink(opts.EventBuffer)
	}

	maxAgents := opts.MaxAgents
	if maxAgents <= 0 {
		maxAgents = 5
	}
	wait := opts.CredentialWait
	if wait <= 0 {
		wait = 24 * time.Hour
	}

	r := &Runner{
		ID:        id,
		Owner:     opts.Owner,
		task:      opts.Task,
		autoApply: opts.AutoApply,
		gate:      opts.Gate,
		broker:    opts.Broker,
		sink:      sink,
		logger:    logger,
		source:    opts.Source,
		state:     StateInit,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	r.roster = r.buildRoster(opts.Builder, maxAgents)
	if r.source == nil {
		r.source = roster.NewScriptedSource(roster.DemoScript(opts.Task))
	}

	r.apply = &actions.Applicator{
		Roster:      r.roster,
		Broker:      opts.Broker,
		Sink:        sink,
		Logger:      logger,
		Owner:       opts.Owner,
		WaitTimeout: wait,
		OnWaitingForCredential: func(provider string) {
			r.setState(WaitingState(provider))
		},
		OnResumed: func() {
			r.setState(StateRunning)
		},
	}
	return r
}

func (r *Runner) buildRoster(builder roster.Builder, maxAgents int) *roster.Roster {
	if builder != nil {
		built, err := builder.Build(context.Background(), r.task, maxAgents)
		if err == nil && built != nil && built.Len() > 0 {
			return built
		}
		if err != nil {
			r.sink.Publish(events.New(events.KindInfo, map[string]interface{}{
				"msg": fmt.Sprintf("Roster build failed, using fallback: %v", err),
			}))
			r.logger.Warn("roster build failed", map[string]interface{}{"error": err})
		}
	}
	return roster.Fallback(r.task, maxAgents)
}

// Sink exposes the task's event stream.
func (r *Runner) Sink() *events.Sink {
	return r.sink
}

// Roster exposes the live roster. Mutated only by the runner's goroutine.
func (r *Runner) Roster() *roster.Roster {
	return r.roster
}

// State returns the current task state.
func (r *Runner) State() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s string) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Stop requests cooperative termination. The runner notices between
// message-processing steps; an in-flight credential wait is not interrupted.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

// Done is closed when the runner's loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) stopRequested() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

// Start runs the task loop on a new goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.Run(ctx)
}

// Run executes the task loop to completion. Within a task everything is
// sequential: produce, verify, apply, one message at a time.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	defer r.sink.Close()

	r.setState(StateRunning)
	r.emit(events.KindInfo, map[string]interface{}{"msg": "Task started"})
	r.logger.Info("task started", map[string]interface{}{"owner": r.Owner})

	for {
		if r.stopRequested() || ctx.Err() != nil {
			r.finishStopped("Task stopped by user")
			return
		}

		msg, ok := r.source.Next(ctx)
		if !ok {
			break
		}

		r.emit(events.KindAgentMessage, map[string]interface{}{
			"sender":    msg.Sender,
			"recipient": msg.Recipient,
			"content":   logging.Redact(msg.Content),
		})

		// Inline key-request markers short-circuit straight to the broker,
		// before the verifier weighs in.
		for _, provider := range extractKeyRequests(msg.Content) {
			if err := r.apply.RequestCredential(ctx, provider, "requested inline by "+msg.Sender); err != nil {
				r.finishFatal(err)
				return
			}
		}

		verdict := r.gate.Verify(ctx, r.task, msg.Sender, msg.Recipient, msg.Content)
		r.emit(events.KindVerifierResult, map[string]interface{}{
			"verdict":           verdict.Verdict,
			"confidence":        verdict.Confidence,
			"reason":            verdict.Reason,
			"suggested_actions": verdict.SuggestedActions,
			"patch_for_agent":   verdict.PatchForAgent,
		})

		if verdict.Failed() && r.autoApply {
			if err := r.apply.Apply(ctx, verdict); err != nil {
				r.finishFatal(err)
				return
			}
		}
	}

	if r.stopRequested() {
		r.finishStopped("Task stopped by user")
		return
	}
	r.setState(StateFinished)
	r.emit(events.KindFinished, map[string]interface{}{"msg": "Task completed"})
	r.logger.Info("task completed")
}

func (r *Runner) finishStopped(msg string) {
	r.setState(StateStopped)
	r.emit(events.KindInfo, map[string]interface{}{"msg": msg})
	r.emit(events.KindFinished, map[string]interface{}{"msg": "Stopped"})
	r.logger.Info("task stopped")
}

// finishFatal terminates the task after an unrecoverable failure; in
// practice that is only a credential-wait timeout.
func (r *Runner) finishFatal(err error) {
	r.setState(StateStopped)
	if errors.Is(err, actions.ErrCredentialTimeout) {
		r.logger.Error("credential wait timed out", map[string]interface{}{"error": err})
	} else {
		r.logger.Error("task failed", map[string]interface{}{"error": err})
	}
	r.emit(events.KindFinished, map[string]interface{}{"msg": "Stopped: " + err.Error()})
}

func (r *Runner) emit(kind events.Kind, payload map[string]interface{}) {
	r.sink.Publish(events.New(kind, payload))
}
