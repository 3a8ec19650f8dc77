package harness

// If the unit tries to exit, the harness MUST continue.
// If the unit crashes, record it and move on.
// One iteration at a time: redirect scopes are process-wide.

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/psantana5/exitshim/internal/observe"
	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/pkg/logging"
	"github.com/psantana5/exitshim/pkg/redirect"
	"github.com/psantana5/exitshim/pkg/store"
	"github.com/psantana5/exitshim/pkg/tracing"
)

var (
	ErrUnknownEntry = errors.New("unknown entry point")
	ErrNoInputs     = errors.New("no inputs")
)

// InputPlaceholder in Config.Args is replaced by the path of the current
// input file.
const InputPlaceholder = "@@"

// Config describes a fuzz campaign against one registered entry point.
type Config struct {
	// Entry is the name the rewritten unit registered under.
	Entry string
	// Args follow argv[0]. Without an "@@" the input path is appended.
	Args []string
	// MaxIterations > 0 cycles over the inputs until that many iterations
	// ran. 0 runs every input once.
	MaxIterations int
	// ExecsPerSecond caps the iteration rate. 0 means unlimited.
	ExecsPerSecond float64
	// WorkDir holds temporary input files. Empty means os.TempDir.
	WorkDir string
	// Intent is a free-form label stored with every result.
	Intent string
	// RecentSize bounds the interception ring buffer.
	RecentSize int
}

// Harness drives a registered entry point over fuzz inputs.
type Harness struct {
	cfg     Config
	entry   *redirect.Entry
	store   store.Store
	metrics *report.Metrics
	recent  *report.InterceptionLog
	memory  *observe.MemorySampler
	limiter *rate.Limiter
	tracer  *tracing.Provider
	logger  *logging.Logger

	runID     string
	iteration uint64
}

// Option customizes a Harness.
type Option func(*Harness)

// WithStore persists every result.
func WithStore(s store.Store) Option { return func(h *Harness) { h.store = s } }

// WithMetrics records into m instead of a private Metrics.
func WithMetrics(m *report.Metrics) Option { return func(h *Harness) { h.metrics = m } }

// WithInterceptionLog shares a ring buffer, e.g. with the HTTP server.
func WithInterceptionLog(l *report.InterceptionLog) Option {
	return func(h *Harness) { h.recent = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(h *Harness) { h.logger = l } }

// WithTracer sets the tracing provider.
func WithTracer(p *tracing.Provider) Option { return func(h *Harness) { h.tracer = p } }

// WithMemorySampler samples harness RSS after each iteration.
func WithMemorySampler(m *observe.MemorySampler) Option {
	return func(h *Harness) { h.memory = m }
}

// New creates a harness for cfg.Entry, which must be registered.
func New(cfg Config, opts ...Option) (*Harness, error) {
	entry, ok := redirect.Lookup(cfg.Entry)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, cfg.Entry)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must not be negative, got %d", cfg.MaxIterations)
	}
	if cfg.ExecsPerSecond < 0 {
		return nil, fmt.Errorf("execs per second must not be negative, got %g", cfg.ExecsPerSecond)
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 100
	}

	h := &Harness{cfg: cfg, entry: entry}
	for _, opt := range opts {
		opt(h)
	}

	if h.store == nil {
		h.store = store.NewMemoryStore()
	}
	if h.metrics == nil {
		h.metrics = report.NewMetrics()
	}
	if h.recent == nil {
		h.recent = report.NewInterceptionLog(cfg.RecentSize)
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	if h.tracer == nil {
		h.tracer = tracing.Noop("exitshim")
	}
	if cfg.ExecsPerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.ExecsPerSecond), 1)
	}
	h.logger = h.logger.WithField("entry", entry.Name)
	return h, nil
}

// Metrics returns the metrics the harness records into.
func (h *Harness) Metrics() *report.Metrics { return h.metrics }

// Interceptions returns the recent interception ring buffer.
func (h *Harness) Interceptions() *report.InterceptionLog { return h.recent }

// RunID returns the ID of the current or last run.
func (h *Harness) RunID() string { return h.runID }
