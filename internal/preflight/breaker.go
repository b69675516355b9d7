package preflight

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
)

// Default breaker thresholds.
const (
	// DefaultFingerprintThreshold trips an exact (tool, args) pair after
	// this many failures. Success on the pair resets it.
	DefaultFingerprintThreshold = 2

	// DefaultIntentThreshold exhausts an intent once accumulated failure
	// weight reaches it. Deterministic failures weigh double.
	DefaultIntentThreshold = 3
)

// FailureEvent describes one recorded failure. An optional sink receives
// every event, so learning or audit layers can subscribe without touching
// breaker internals.
type FailureEvent struct {
	Call          Call
	Intent        Intent
	Error         string
	Deterministic bool
	Step          int
}

// intentState is the per-intent aggregate.
type intentState struct {
	weight       int
	failures     int
	lastStep     int
	overrideUsed bool
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FingerprintThreshold trips an exact call fingerprint. Default: 2.
	FingerprintThreshold int

	// IntentThreshold exhausts an intent. Default: 3.
	IntentThreshold int

	// OnFailure, when set, receives every recorded failure.
	OnFailure func(FailureEvent)
}

// Breaker is the failure accountant behind preflight. Two independent
// accountings: per-fingerprint counters catch exact-repeat loops, and
// per-intent weights catch "trying the same thing ten ways". Paths that
// failed with not-found join the bad-path set and gate later proposals.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	fingerprints map[string]int
	lastErrors   map[string]string
	intents      map[Intent]*intentState
	badPaths     map[string]bool
	step         int
}

// NewBreaker creates a breaker with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FingerprintThreshold <= 0 {
		cfg.FingerprintThreshold = DefaultFingerprintThreshold
	}
	if cfg.IntentThreshold <= 0 {
		cfg.IntentThreshold = DefaultIntentThreshold
	}
	return &Breaker{
		cfg:          cfg,
		fingerprints: make(map[string]int),
		lastErrors:   make(map[string]string),
		intents:      make(map[Intent]*intentState),
		badPaths:     make(map[string]bool),
	}
}

// Fingerprint hashes a call's name and canonical arguments. Two calls with
// the same tool and semantically identical arguments share a fingerprint.
func Fingerprint(c Call) string {
	// encoding/json sorts map keys, which canonicalizes the shape.
	args, _ := json.Marshal(c.Args)
	sum := sha256.Sum256(append([]byte(c.Name+"\x00"), args...))
	return hex.EncodeToString(sum[:])[:16]
}

// SetStep advances the recency pointer used in failure accounting.
func (b *Breaker) SetStep(step int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.step = step
}

// RecordFailure accounts one failed call. Deterministic errors (not-found,
// permission, validation, syntax) weigh double on the intent, and not-found
// paths join the bad-path set.
func (b *Breaker) RecordFailure(c Call, errText string) {
	deterministic := DeterministicError(errText)
	intent := Classify(c)

	b.mu.Lock()
	fp := Fingerprint(c)
	b.fingerprints[fp]++
	b.lastErrors[fp] = errText

	st := b.intents[intent]
	if st == nil {
		st = &intentState{}
		b.intents[intent] = st
	}
	if deterministic {
		st.weight += 2
	} else {
		st.weight++
	}
	st.failures++
	st.lastStep = b.step

	if isNotFound(errText) {
		if path := c.Path(); path != "" {
			b.badPaths[normalizePath(path)] = true
		}
	}
	sink := b.cfg.OnFailure
	step := b.step
	b.mu.Unlock()

	if sink != nil {
		sink(FailureEvent{Call: c, Intent: intent, Error: errText, Deterministic: deterministic, Step: step})
	}
}

// RecordSuccess resets the call's fingerprint counter and clears its path
// from the bad-path set.
func (b *Breaker) RecordSuccess(c Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fp := Fingerprint(c)
	delete(b.fingerprints, fp)
	delete(b.lastErrors, fp)
	if path := c.Path(); path != "" {
		delete(b.badPaths, normalizePath(path))
	}
}

// FingerprintTripped reports whether the exact call has failed enough to
// trip, along with its last error.
func (b *Breaker) FingerprintTripped(c Call) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fp := Fingerprint(c)
	return b.fingerprints[fp] >= b.cfg.FingerprintThreshold, b.lastErrors[fp]
}

// IntentExhausted reports whether an intent's accumulated weight reached
// the threshold, along with the weight.
func (b *Breaker) IntentExhausted(i Intent) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.intents[i]
	if st == nil {
		return false, 0
	}
	return st.weight >= b.cfg.IntentThreshold, st.weight
}

// IntentFailures returns the raw failure count for the recovery ladder.
func (b *Breaker) IntentFailures(i Intent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.intents[i]; st != nil {
		return st.failures
	}
	return 0
}

// Override consumes an intent's one-shot override: the weight resets to
// zero and the override is marked used. Returns false when the override was
// already consumed for this intent.
func (b *Breaker) Override(i Intent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.intents[i]
	if st == nil {
		st = &intentState{}
		b.intents[i] = st
	}
	if st.overrideUsed {
		return false
	}
	st.overrideUsed = true
	st.weight = 0
	return true
}

// BadPath reports whether a path previously failed with not-found.
func (b *Breaker) BadPath(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.badPaths[normalizePath(path)]
}

// deterministicPatterns identify failures whose recurrence is predictable
// from the arguments alone. They are detected on error text because tool
// results cross the executor boundary as rendered envelopes.
var deterministicPatterns = []string{
	"not found",
	"no such file",
	"does not exist",
	"permission denied",
	"access denied",
	"invalid argument",
	"validation",
	"syntax error",
	"outside workspace",
	"blocked file",
}

// DeterministicError reports whether an error text matches a deterministic
// failure pattern.
func DeterministicError(errText string) bool {
	lower := strings.ToLower(errText)
	for _, p := range deterministicPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isNotFound(errText string) bool {
	lower := strings.ToLower(errText)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "does not exist")
}

// normalizePath gives slash-normalized comparison keys for the bad-path set.
func normalizePath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
}
