package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CircuitBreaker trips after a run of consecutive failures and rejects calls
// until the open window elapses. One instance per external dependency
// ("gateway", "smtp"), shared via GetBreaker.
type CircuitBreaker struct {
	name      string
	threshold int
	openFor   time.Duration

	mu           sync.Mutex
	fails        int
	trippedUntil time.Time
	tripped      bool
}

var (
	breakersMu sync.Mutex
	breakers   = map[string]*CircuitBreaker{}
)

// GetBreaker returns the shared breaker for name, creating it on first use.
// Defaults come from VF_CB_THRESHOLD / VF_CB_OPEN_SECONDS and can be
// overridden per dependency with VF_CB_<NAME>_THRESHOLD etc.
func GetBreaker(name string) *CircuitBreaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()
	if b, ok := breakers[name]; ok {
		return b
	}
	b := &CircuitBreaker{
		name:      name,
		threshold: breakerEnvInt(name, "THRESHOLD", 3),
		openFor:   time.Duration(breakerEnvInt(name, "OPEN_SECONDS", 30)) * time.Second,
	}
	breakers[name] = b
	SetBreakerState(name, false)
	return b
}

func breakerEnvInt(name, key string, def int) int {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	for _, k := range []string{"VF_CB_" + upper + "_" + key, "VF_CB_" + key} {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}

// Allow reports whether a call may proceed. A tripped breaker closes again
// once its window has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if b.tripped && now.After(b.trippedUntil) {
		b.tripped = false
		b.fails = 0
		SetBreakerState(b.name, false)
	}
	if b.tripped {
		return false
	}
	return true
}

// ReportSuccess clears the failure run and closes the breaker.
func (b *CircuitBreaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = 0
	if b.tripped {
		b.tripped = false
		SetBreakerState(b.name, false)
	}
}

// ReportFailure records one failure and trips the breaker when the run
// reaches the threshold.
func (b *CircuitBreaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails++
	if b.fails >= b.threshold {
		b.tripped = true
		b.trippedUntil = time.Now().Add(b.openFor)
		b.fails = 0
		SetBreakerState(b.name, true)
	}
}
