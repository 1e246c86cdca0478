// Package handlers contains health checks and middleware shared by the HTTP
// server.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCY HEALTH
// Store and redis reachability for /healthz. The engine's own
// healthy/warning/dying tier is not part of it.
// ══════════════════════════════════════════════════════════════════════════════

// checkTimeout bounds a single dependency check.
const checkTimeout = 5 * time.Second

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthStatus is the /healthz body.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// DependencyChecker runs the registered checks concurrently.
type DependencyChecker struct {
	mu      sync.RWMutex
	checks  map[string]func(context.Context) error
	version string
}

// NewDependencyChecker creates a checker reporting version.
func NewDependencyChecker(version string) *DependencyChecker {
	return &DependencyChecker{
		checks:  make(map[string]func(context.Context) error),
		version: version,
	}
}

// AddCheck registers a named check, usually a store's Ping.
func (c *DependencyChecker) AddCheck(name string, check func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every check and aggregates the results.
func (c *DependencyChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			res := CheckResult{Healthy: true, Message: "OK"}
			if err := check(checkCtx); err != nil {
				res = CheckResult{Message: err.Error()}
			}
			res.Duration = time.Since(start).Round(time.Millisecond).String()

			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	var failed []string
	for name, res := range status.Checks {
		if !res.Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		status.Healthy = false
		status.Message = "unhealthy: " + strings.Join(failed, ", ")
	}
	return status
}
