// Package gate decides whether a read may proceed. Each (path, session)
// pair is asked about at most once per Window; the answer, whether a grant
// or a denial, is reused until the window has passed.
package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/types"
	"github.com/manualbox/manualbox/pkg/utils"
)

// Window is how long a decision stands.
const Window = 30 * time.Second

// Defaults for gate options.
const (
	DefaultTimeout    = 2 * time.Minute
	DefaultMaxRecords = 4096
)

// Request identifies one access attempt.
type Request struct {
	Path        string
	DisplayPath string
	Session     string
	PID         uint32
}

// RecordKey is the table key for a request.
func RecordKey(path, session string) string {
	return path + ":" + session
}

// Gate holds access records and consults a DecisionProvider when none is
// current. It is safe for concurrent use; concurrent requests for the same
// key share one provider call.
type Gate struct {
	mu      sync.Mutex
	records *recordTable

	provider DecisionProvider
	labeler  ProcessLabeler
	timeout  time.Duration
	now      func() time.Time

	metrics types.MetricsCollector
	logger  logrus.FieldLogger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithMaxRecords bounds the record table.
func WithMaxRecords(n int) Option {
	return func(g *Gate) { g.records.max = n }
}

// WithLabeler resolves process labels for prompts.
func WithLabeler(l ProcessLabeler) Option {
	return func(g *Gate) { g.labeler = l }
}

// WithMetrics reports decisions to m.
func WithMetrics(m types.MetricsCollector) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate asking provider.
func New(provider DecisionProvider, opts ...Option) *Gate {
	g := &Gate{
		records:  newRecordTable(DefaultMaxRecords),
		provider: provider,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   utils.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.WithField("component", "gate")
	return g
}

// Authorize returns nil if req may proceed and an ErrAccessDenied error
// otherwise.
func (g *Gate) Authorize(ctx context.Context, req Request) error {
	key := RecordKey(req.Path, req.Session)

	g.mu.Lock()
	t := g.now()
	rec := g.records.get(key)

	if rec != nil && !rec.settled() {
		done := rec.done
		g.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return g.denied(req, ctx.Err())
		}
		return g.outcome(req, rec, true)
	}

	if rec != nil && t.Sub(rec.decidedAt) < Window {
		g.mu.Unlock()
		return g.outcome(req, rec, true)
	}

	rec = &record{key: key, state: stateEvaluating, done: make(chan struct{})}
	g.records.put(rec)
	g.setRecordGauge()
	g.mu.Unlock()

	allowed, cause := g.evaluate(ctx, req)

	g.mu.Lock()
	rec.decidedAt = t
	rec.cause = cause
	if allowed {
		rec.state = stateGranted
	} else {
		rec.state = stateDenied
	}
	close(rec.done)
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"path":    req.Path,
		"session": req.Session,
		"allowed": allowed,
	}).Info("access decision recorded")

	return g.outcome(req, rec, false)
}

// outcome turns a settled record into a result for req.
func (g *Gate) outcome(req Request, rec *record, cached bool) error {
	granted := rec.state == stateGranted
	if g.metrics != nil {
		switch {
		case cached && granted:
			g.metrics.RecordDecision(types.DecisionCachedGranted)
		case cached:
			g.metrics.RecordDecision(types.DecisionCachedDenied)
		case granted:
			g.metrics.RecordDecision(types.DecisionGranted)
		case rec.cause != nil:
			g.metrics.RecordDecision(types.DecisionFailed)
		default:
			g.metrics.RecordDecision(types.DecisionDenied)
		}
	}
	if granted {
		return nil
	}
	return g.denied(req, rec.cause)
}

func (g *Gate) denied(req Request, cause error) error {
	err := errors.NewError(errors.ErrCodeAccessDenied, "access not confirmed").
		WithComponent("gate").
		WithOperation("authorize").
		WithContext("path", req.Path).
		WithContext("session", req.Session)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// evaluate asks the provider. A non-nil error explains a denial caused by
// a failure rather than an answer.
func (g *Gate) evaluate(ctx context.Context, req Request) (bool, error) {
	logger := g.logger.WithFields(logrus.Fields{"path": req.Path, "session": req.Session})

	prompt := Prompt{DisplayPath: req.DisplayPath}
	if g.labeler != nil && req.PID != 0 {
		label, err := g.labeler.ProcessLabel(req.PID)
		if err != nil {
			logger.WithError(err).Warn("process lookup failed, denying")
			return false, providerFailure(err)
		}
		prompt.ProcessLabel = label
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	logger.Debug("asking for access decision")
	start := time.Now()
	answer, err := g.provider.Decide(ctx, prompt)
	elapsed := time.Since(start)

	if err != nil {
		logger.WithError(err).Warn("decision provider failed, denying")
		if g.metrics != nil {
			g.metrics.RecordPrompt(elapsed, false)
		}
		return false, providerFailure(err)
	}

	allowed := strings.TrimSpace(answer) == Affirmative
	if g.metrics != nil {
		g.metrics.RecordPrompt(elapsed, allowed)
	}
	return allowed, nil
}

func providerFailure(cause error) error {
	return errors.Wrap(cause, errors.ErrCodeProviderFailure, "decision provider failed").
		WithComponent("gate")
}

// Sweep drops records whose window has passed.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := g.records.sweep(g.now(), Window)
	g.setRecordGauge()
	return removed
}

// Len returns the number of records held.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records.len()
}

// Run sweeps every interval until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.WithField("removed", n).Debug("swept expired access records")
			}
		}
	}
}

// setRecordGauge must be called with g.mu held.
func (g *Gate) setRecordGauge() {
	if g.metrics != nil {
		g.metrics.SetAccessRecords(g.records.len())
	}
}

// String describes the gate for logs.
func (g *Gate) String() string {
	return fmt.Sprintf("Gate{window=%s, timeout=%s, max=%d}", Window, g.timeout, g.records.max)
}
