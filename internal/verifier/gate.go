package verifier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/telemetry"
)

const systemPrompt = "You are an automated verifier. Return ONLY a single JSON object. Do NOT include any surrounding commentary."

const userPromptTemplate = `Context:
- task: %s
- sender: %s
- recipient: %s
- agent_message: %s

Instructions:
1) Decide if the agent_message is correct and relevant to the task.
2) Output JSON with keys:
   - verdict: "pass" or "fail"
   - confidence: number (0.0 - 1.0)
   - reason: short string
   - suggested_actions: array of strings (allowed actions: "modify_agent_system_prompt:<instruction>", "add_agent:<role>:<description>", "remove_agent:<name>", "request_credential:<provider>:<reason>", "request_references", "reduce_temperature", "increase_temperature")
   - patch_for_agent: optional string (system prompt patch)
3) Only output valid JSON (start with { and end with }).`

// Gate evaluates one agent message at a time, wrapping the judge capability
// with retry, backoff and a circuit breaker. Verify never returns an error:
// every degradation path yields a well-formed verdict.
type Gate struct {
	judge   Judge
	breaker *circuitBreaker
	logger  *logging.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	devMode    bool

	sleep func(time.Duration)
}

// GateOptions configures a Gate.
type GateOptions struct {
	Judge            Judge
	Logger           *logging.Logger
	MaxRetries       int           // judge attempts per message, default 3
	BaseDelay        time.Duration // first backoff step, default 500ms
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// DevMode returns a canned pass verdict without touching the judge.
	DevMode bool
}

// NewGate builds a Gate.
func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Gate{
		judge:      opts.Judge,
		breaker:    newCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		logger:     logger.WithComponent("verifier"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   8 * time.Second,
		devMode:    opts.DevMode,
		sleep:      time.Sleep,
	}
}

// buildUserPrompt embeds the exchange into the fixed prompt shape.
func buildUserPrompt(task, sender, recipient, message string) string {
	return fmt.Sprintf(userPromptTemplate, task, sender, recipient, message)
}

// Verify produces a verdict for one message. Degradation order:
// breaker open -> fail-open pass; judge exhausted -> low-confidence pass;
// unparsable output -> heuristic fail. Each path is distinct and testable.
func (g *Gate) Verify(ctx context.Context, task, sender, recipient, message string) Verdict {
	ctx, span := telemetry.StartSpan(ctx, "verifier.verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("verifier.sender", sender),
		attribute.String("verifier.recipient", recipient),
	)

	if g.devMode {
		return Verdict{
			Verdict:          VerdictPass,
			Confidence:       0.8,
			Reason:           "Dev mode verifier stub",
			SuggestedActions: []string{},
		}
	}

	if !g.breaker.Allow() {
		g.logger.Warn("circuit breaker open, skipping verification")
		span.SetAttributes(attribute.String("verifier.outcome", "breaker_open"))
		return Verdict{
			Verdict:          VerdictPass,
			Confidence:       0.2,
			Reason:           "Verifier circuit breaker open; skipping check temporarily.",
			SuggestedActions: []string{},
		}
	}

	raw, err := g.completeWithRetry(ctx, buildUserPrompt(task, sender, recipient, message))
	if err != nil {
		g.logger.Warn("judge unavailable, failing open", map[string]interface{}{"error": err})
		span.SetAttributes(attribute.String("verifier.outcome", "judge_unavailable"))
		return Verdict{
			Verdict:          VerdictPass,
			Confidence:       0.2,
			Reason:           "Verifier unavailable; message passed unchecked.",
			SuggestedActions: []string{},
		}
	}

	verdict := parseVerdict(raw)
	span.SetAttributes(
		attribute.String("verifier.outcome", verdict.Verdict),
		attribute.Float64("verifier.confidence", verdict.Confidence),
	)
	return verdict
}

// completeWithRetry attempts the judge up to maxRetries times with doubling,
// capped backoff. Every failure feeds the breaker; the first success resets it.
func (g *Gate) completeWithRetry(ctx context.Context, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		ctx, span := telemetry.StartSpan(ctx, "verifier.judge")
		span.SetAttributes(attribute.Int("judge.attempt", attempt))

		raw, err := g.judge.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			g.breaker.MarkSuccess()
			span.End()
			return raw, nil
		}
		span.RecordError(err)
		span.End()

		g.breaker.MarkFailure()
		lastErr = err
		g.logger.Warn("judge call failed", map[string]interface{}{
			"attempt": fmt.Sprintf("%d/%d", attempt, g.maxRetries),
			"error":   err,
		})

		if attempt < g.maxRetries {
			delay := g.baseDelay << (attempt - 1)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
			g.sleep(delay)
		}
	}
	return "", fmt.Errorf("judge failed after %d attempts: %w", g.maxRetries, lastErr)
}
