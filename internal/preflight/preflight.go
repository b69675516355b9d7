package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/anvil/internal/observability"
)

// OverrideToken is the literal the model must emit, with justification, to
// consume an intent's one-shot override.
const OverrideToken = "OVERRIDE:"

// Result is the outcome of checking one batch of proposals.
type Result struct {
	// Passed is true when every proposal may execute.
	Passed bool

	// Reasons explain the failure. Empty when Passed.
	Reasons []string

	// Warnings are advisory notes (recovery ladder, capability matrix)
	// surfaced to the model even when the batch passes.
	Warnings []string

	// ForcePlanMode tells the loop to switch to planner mode next turn.
	ForcePlanMode bool

	// Rewrites maps call id to a safe path rewrite the executor applies.
	Rewrites map[string]*PathRewrite
}

// Config tunes preflight behavior.
type Config struct {
	// Breaker holds the thresholds; see BreakerConfig.
	Breaker BreakerConfig

	// DisableOverride turns the OVERRIDE escape hatch off.
	DisableOverride bool
}

// Preflight validates batches of proposed tool calls against the circuit
// breaker, the path gate, and planner mode. One instance lives for the
// whole conversation so that failure accounting spans turns.
type Preflight struct {
	cfg     Config
	breaker *Breaker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a preflight checker with its own breaker.
func New(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Preflight {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Preflight{
		cfg:     cfg,
		breaker: NewBreaker(cfg.Breaker),
		logger:  logger,
		metrics: metrics,
	}
}

// Breaker exposes the underlying breaker so the loop can record results.
func (p *Preflight) Breaker() *Breaker {
	return p.breaker
}

// Check validates a batch of proposals. plannerMode reflects the loop's
// current mode; modelText is the model's prose for the same turn, scanned
// for the OVERRIDE token.
func (p *Preflight) Check(ctx context.Context, calls []Call, plannerMode bool, modelText string) Result {
	res := Result{Passed: true, Rewrites: make(map[string]*PathRewrite)}

	// The override is processed before any accounting so a deliberate,
	// justified OVERRIDE re-enables the intent for this very batch.
	if !p.cfg.DisableOverride && strings.Contains(modelText, OverrideToken) {
		seen := make(map[Intent]bool)
		for _, c := range calls {
			intent := Classify(c)
			if seen[intent] {
				continue
			}
			seen[intent] = true
			if exhausted, _ := p.breaker.IntentExhausted(intent); !exhausted {
				continue
			}
			if p.breaker.Override(intent) {
				p.logger.Info(ctx, "override consumed", "intent", intent)
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("OVERRIDE accepted for %s; this was its one-shot reset", intent))
			} else {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("OVERRIDE rejected for %s; its one-shot reset was already used", intent))
			}
		}
	}

	if plannerMode {
		res.Passed = false
		for range calls {
			res.Reasons = append(res.Reasons, "Planner mode is active; tools disabled.")
		}
		p.deny("planner_mode")
		return res
	}

	for _, c := range calls {
		intent := Classify(c)

		if tripped, lastErr := p.breaker.FingerprintTripped(c); tripped {
			res.Passed = false
			reason := fmt.Sprintf("CIRCUIT BREAKER: %s with these exact arguments already failed repeatedly (last error: %s); do not repeat the identical call", c.Name, firstLine(lastErr))
			res.Reasons = append(res.Reasons, reason)
			p.deny("circuit_breaker")
			p.trip("fingerprint", intent)
			continue
		}

		if exhausted, weight := p.breaker.IntentExhausted(intent); exhausted {
			res.Passed = false
			res.Reasons = append(res.Reasons, intentReason(intent, weight, p.breaker.cfg.IntentThreshold))
			res.ForcePlanMode = true
			p.deny("intent_exhausted")
			p.trip("intent", intent)
			continue
		}

		if path := c.Path(); path != "" && p.breaker.BadPath(path) {
			res.Passed = false
			res.Reasons = append(res.Reasons,
				fmt.Sprintf("PATH GATE: %q already failed with not-found; verify the path with list_dir before retrying", path))
			p.deny("path_gate")
			continue
		}

		if rw := computeRewrite(c); rw != nil {
			res.Rewrites[c.ID] = rw
			if rw.Safety == RewriteSafe {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("path %q normalized to %q", rw.Original, rw.Rewritten))
			}
		}

		if warn := capabilityWarning(c); warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}

		if warn := p.ladderWarning(intent); warn != "" {
			res.Warnings = append(res.Warnings, warn)
			if p.breaker.IntentFailures(intent) >= 5 {
				res.ForcePlanMode = true
			}
		}
	}
	return res
}

// ladderWarning emits the recovery-ladder advisory for an intent's failure
// count: retry, switch tool, switch approach, then stop and plan.
func (p *Preflight) ladderWarning(i Intent) string {
	switch n := p.breaker.IntentFailures(i); {
	case n == 0:
		return ""
	case n == 1:
		return fmt.Sprintf("recovery: %s failed once; retry is reasonable", i)
	case n == 2:
		return fmt.Sprintf("recovery: %s failed twice; switch to a different tool", i)
	case n < 5:
		return fmt.Sprintf("recovery: %s failed %d times; switch approach entirely", i, n)
	default:
		return fmt.Sprintf("recovery: %s failed %d times; stop and plan before acting again", i, n)
	}
}

func (p *Preflight) deny(reason string) {
	if p.metrics != nil {
		p.metrics.PreflightDenials.WithLabelValues(reason).Inc()
	}
}

func (p *Preflight) trip(kind string, intent Intent) {
	if p.metrics != nil {
		p.metrics.BreakerTrips.WithLabelValues(kind, string(intent)).Inc()
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
