// Package router implements the model router used by the runner and the
// language classifier.
//
// The router holds one ProviderDriver per provider kind and dispatches every
// completion to the default driver, or to the driver named by a "kind/"
// prefix on the requested model. It tracks per-driver latency with an
// exponential moving average.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// ErrNoDriver is returned when no driver is registered for a request.
var ErrNoDriver = errors.New("no model driver registered")

// ProviderDriver executes chat completions against one provider API.
type ProviderDriver interface {
	Kind() string
	Stream(ctx context.Context, req *contracts.CompletionRequest, fn func(*models.StreamChunk) error) error
	Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.CompletionResponse, error)
}

// HealthChecker is implemented by drivers that can verify their credentials.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelRouter routes completion requests to registered drivers.
type ModelRouter struct {
	mu          sync.RWMutex
	drivers     map[string]ProviderDriver
	defaultKind string

	latencyMu sync.RWMutex
	latencies map[string]int64
}

var _ contracts.ModelService = (*ModelRouter)(nil)

// NewModelRouter creates a router. The first registered driver becomes the
// default unless SetDefault is called.
func NewModelRouter(drivers ...ProviderDriver) *ModelRouter {
	mr := &ModelRouter{
		drivers:   make(map[string]ProviderDriver),
		latencies: make(map[string]int64),
	}
	for _, d := range drivers {
		mr.RegisterDriver(d)
	}
	return mr
}

// RegisterDriver adds or replaces the driver for d.Kind().
func (mr *ModelRouter) RegisterDriver(d ProviderDriver) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.drivers[d.Kind()] = d
	if mr.defaultKind == "" {
		mr.defaultKind = d.Kind()
	}
	log.Debug().Str("kind", d.Kind()).Msg("Model driver registered")
}

// SetDefault selects the driver used for unprefixed models.
func (mr *ModelRouter) SetDefault(kind string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if _, ok := mr.drivers[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrNoDriver, kind)
	}
	mr.defaultKind = kind
	return nil
}

// GetDriver returns the driver for kind, or nil.
func (mr *ModelRouter) GetDriver(kind string) ProviderDriver {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered kinds, sorted.
func (mr *ModelRouter) ListDrivers() []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Stream dispatches a streaming completion.
func (mr *ModelRouter) Stream(ctx context.Context, req *contracts.CompletionRequest, fn func(*models.StreamChunk) error) error {
	d, routed, err := mr.resolve(req)
	if err != nil {
		return err
	}
	start := time.Now()
	err = d.Stream(ctx, routed, fn)
	if err == nil {
		mr.recordLatency(d.Kind(), time.Since(start))
	}
	return err
}

// Complete dispatches a non-streaming completion.
func (mr *ModelRouter) Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.CompletionResponse, error) {
	d, routed, err := mr.resolve(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := d.Complete(ctx, routed)
	if err != nil {
		return nil, err
	}
	mr.recordLatency(d.Kind(), time.Since(start))
	if resp.Provider == "" {
		resp.Provider = d.Kind()
	}
	return resp, nil
}

// resolve picks the driver for req. A model of the form "kind/name" is
// routed to that kind when such a driver exists; the prefix is stripped.
func (mr *ModelRouter) resolve(req *contracts.CompletionRequest) (ProviderDriver, *contracts.CompletionRequest, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	if kind, model, ok := strings.Cut(req.Model, "/"); ok {
		if d, found := mr.drivers[kind]; found {
			routed := *req
			routed.Model = model
			return d, &routed, nil
		}
	}

	d, ok := mr.drivers[mr.defaultKind]
	if !ok {
		return nil, nil, ErrNoDriver
	}
	return d, req, nil
}

// ── Latency Tracking ────────────────────────────────────────

func (mr *ModelRouter) recordLatency(kind string, d time.Duration) {
	ms := d.Milliseconds()
	mr.latencyMu.Lock()
	defer mr.latencyMu.Unlock()
	prev := mr.latencies[kind]
	if prev == 0 {
		mr.latencies[kind] = ms
		return
	}
	mr.latencies[kind] = (prev*7 + ms*3) / 10
}

// Latency returns the moving-average latency of a driver in milliseconds.
func (mr *ModelRouter) Latency(kind string) int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	return mr.latencies[kind]
}

// ── Health ──────────────────────────────────────────────────

// HealthCheck runs every driver health check and returns "ok" or the error
// text for each kind. Drivers without a health check report "ok".
func (mr *ModelRouter) HealthCheck(ctx context.Context) map[string]string {
	mr.mu.RLock()
	drivers := make([]ProviderDriver, 0, len(mr.drivers))
	for _, d := range mr.drivers {
		drivers = append(drivers, d)
	}
	mr.mu.RUnlock()

	result := make(map[string]string, len(drivers))
	for _, d := range drivers {
		hc, ok := d.(HealthChecker)
		if !ok {
			result[d.Kind()] = "ok"
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			result[d.Kind()] = err.Error()
			continue
		}
		result[d.Kind()] = "ok"
	}
	return result
}
