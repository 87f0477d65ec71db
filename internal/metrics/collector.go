package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/types"
	"github.com/manualbox/manualbox/pkg/utils"
)

var _ types.MetricsCollector = (*Collector)(nil)

// Collector implements types.MetricsCollector on a private Prometheus
// registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   logrus.FieldLogger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	decisionCounter   *prometheus.CounterVec
	promptDuration    *prometheus.HistogramVec
	accessRecords     prometheus.Gauge
	containerSize     prometheus.Gauge

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a disabled config bound to localhost.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Address:   "127.0.0.1:9273",
		Path:      "/metrics",
		Namespace: "manualbox",
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64
	TotalDuration time.Duration
	TotalSize     int64
	Errors        int64
	LastOperation time.Time
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
		config.Enabled = true
	}

	c := &Collector{
		config: config,
		logger: utils.DiscardLogger(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// SetLogger sets the logger used by the HTTP endpoint.
func (c *Collector) SetLogger(l logrus.FieldLogger) {
	c.logger = l.WithField("component", "metrics")
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Start serves the registry on the configured address.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	ln, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", c.config.Address, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	c.logger.WithField("address", ln.Addr().String()).Info("serving metrics")
	return nil
}

// Addr returns the bound address once started.
func (c *Collector) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an operation with its metrics
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.With(prometheus.Labels{"operation": operation}).Observe(float64(size))
	}
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// RecordDecision counts an access decision by outcome.
func (c *Collector) RecordDecision(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.decisionCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordPrompt observes how long a decision took to arrive.
func (c *Collector) RecordPrompt(duration time.Duration, granted bool) {
	if !c.config.Enabled {
		return
	}
	c.promptDuration.With(prometheus.Labels{"granted": strconv.FormatBool(granted)}).Observe(duration.Seconds())
}

// SetAccessRecords sets the number of access records held.
func (c *Collector) SetAccessRecords(n int) {
	if !c.config.Enabled {
		return
	}
	c.accessRecords.Set(float64(n))
}

// SetContainerSize sets the size of the last saved container.
func (c *Collector) SetContainerSize(bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.containerSize.Set(float64(bytes))
}

// Operations returns a copy of the per-operation totals.
func (c *Collector) Operations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation totals.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of filesystem operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_size_bytes",
			Help:      "Bytes moved by read and write operations",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of failed operations by error type",
		},
		[]string{"operation", "type"},
	)

	c.decisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "access_decisions_total",
			Help:      "Access decisions by outcome",
		},
		[]string{"outcome"},
	)

	c.promptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "prompt_duration_seconds",
			Help:      "Time taken by the decision provider",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"granted"},
	)

	c.accessRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "access_records",
		Help:      "Access records currently held",
	})

	c.containerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "container_size_bytes",
		Help:      "Size of the container file after the last save",
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
		c.decisionCounter,
		c.promptDuration,
		c.accessRecords,
		c.containerSize,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeFileNotFound:
		return "not_found"
	case errors.ErrCodeAccessDenied:
		return "access_denied"
	case errors.ErrCodeNoAttribute:
		return "no_attribute"
	case errors.ErrCodeProviderFailure:
		return "provider"
	case errors.ErrCodeContainerRead, errors.ErrCodeContainerWrite:
		return "container"
	case "":
		return "other"
	default:
		return "internal"
	}
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"manualbox"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	ops := c.Operations()
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("manualbox operations\n\n")
	writef("Uptime: %v\n\n", time.Since(lastReset).Round(time.Second))

	if len(ops) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-14s %10s %10s %14s %12s\n", "Operation", "Count", "Errors", "Avg Duration", "Bytes")
	for _, name := range names {
		op := ops[name]
		avg := time.Duration(0)
		if op.Count > 0 {
			avg = op.TotalDuration / time.Duration(op.Count)
		}
		writef("%-14s %10d %10d %14v %12s\n", name, op.Count, op.Errors, avg, utils.FormatBytes(op.TotalSize))
	}
}
