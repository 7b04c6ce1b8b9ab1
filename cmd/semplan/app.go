package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semplan/agent"
	"github.com/c360studio/semplan/config"
	"github.com/c360studio/semplan/graph"
	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/memory"
	"github.com/c360studio/semplan/metric"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/plan"
	"github.com/c360studio/semplan/prompt"
	"github.com/c360studio/semplan/reference"
)

// RunOptions are the per-run settings taken from the command line.
type RunOptions struct {
	// Inputs are raw values by concept name. A value starting with @ names a
	// file whose content is the value.
	Inputs map[string]string
	// References are JSON reference files by concept name, bound as is.
	References map[string]string
	// Constants override the value bound to unbound constants, which is the
	// concept name by default.
	Constants map[string]string
	// ConstantMode is how constants are explained.
	ConstantMode plan.InputMode

	// Ancestry replaces the views of the graph with ancestry views, treating
	// Dominating as shared axes.
	Ancestry   bool
	Dominating []string
}

// App wires the configuration into a runnable agent.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   memory.Backend
	frame   *agent.Frame
	metrics *metric.Metrics
	gather  prometheus.Gatherer

	metricsServer *http.Server
}

type appOption func(*appDeps)

type appDeps struct {
	body  agent.Body
	store memory.Backend
}

// withBody replaces the configured oracles.
func withBody(body agent.Body) appOption {
	return func(d *appDeps) { d.body = body }
}

// withStore replaces the configured memory backend.
func withStore(s memory.Backend) appOption {
	return func(d *appDeps) { d.store = s }
}

// NewApp opens the memory backend, builds the oracles and the agent frame,
// and starts the metrics endpoint when one is configured.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var deps appDeps
	for _, opt := range opts {
		opt(&deps)
	}

	reg := prometheus.NewRegistry()
	m, err := metric.New(reg)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	store := deps.store
	if store == nil {
		store, err = memory.Open(ctx, cfg.Memory, memory.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open memory: %w", err)
		}
	}

	body := deps.body
	if body == nil {
		body = oracleBody(cfg, logger)
	}

	frame, err := agent.New(body, store,
		agent.WithTimeout(cfg.Oracle.Timeout),
		agent.WithLogger(logger),
		agent.WithMetrics(m),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		frame:   frame,
		metrics: m,
		gather:  reg,
	}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

// oracleBody creates one oracle per role over a shared client.
func oracleBody(cfg *config.Config, logger *slog.Logger) agent.Body {
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Oracle.Retry.MaxAttempts
	if cfg.Oracle.Retry.Backoff > 0 {
		retry.BackoffBase = cfg.Oracle.Retry.Backoff
	}
	if cfg.Oracle.Retry.MaxBackoff > 0 {
		retry.MaxBackoff = cfg.Oracle.Retry.MaxBackoff
	}

	client := llm.NewClient(cfg.Oracle.Registry(),
		llm.WithRetryConfig(retry),
		llm.WithLogger(logger),
	)

	var oracleOpts []llm.OracleOption
	if t := cfg.Oracle.Temperature; t != nil {
		oracleOpts = append(oracleOpts, llm.WithTemperature(*t))
	}
	body := make(agent.Body, len(model.Roles()))
	for _, role := range model.Roles() {
		body[role] = llm.NewOracle(client, role, oracleOpts...)
	}
	return body
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(a.gather))
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Metrics endpoint listening", "addr", addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics endpoint failed", "error", err)
		}
	}()
}

// Close stops the metrics endpoint and closes the memory backend.
func (a *App) Close() error {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}
	return a.store.Close()
}

// LoadPlan reads a plan source and builds the plan, optionally with ancestry
// views.
func (a *App) LoadPlan(path string, opts RunOptions) (*plan.Plan, error) {
	return loadPlan(path, opts, a.planOptions()...)
}

func (a *App) planOptions() []plan.Option {
	parallelism := a.cfg.Plan.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return []plan.Option{
		plan.WithLogger(a.logger),
		plan.WithParallelism(parallelism),
		plan.WithMetrics(a.metrics),
	}
}

func loadPlan(path string, opts RunOptions, planOpts ...plan.Option) (*plan.Plan, error) {
	spec, err := graph.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Ancestry {
		if err := graph.AssignAncestryViews(spec, opts.Dominating); err != nil {
			return nil, fmt.Errorf("ancestry views: %w", err)
		}
	}
	return graph.Build(spec, planOpts...)
}

// Run loads the plan at path, binds its constants and inputs, and executes it.
func (a *App) Run(ctx context.Context, path string, opts RunOptions) (*reference.Reference, error) {
	p, err := a.LoadPlan(path, opts)
	if err != nil {
		return nil, err
	}

	inputCfg := plan.InputConfig{Remember: plan.Remember(a.cfg.Plan.Remember)}
	mode, err := plan.ParseInputMode(a.cfg.Plan.InputMode)
	if err != nil {
		return nil, err
	}

	inputs, err := a.inputValues(p, opts)
	if err != nil {
		return nil, err
	}
	// Constants may be explained by an oracle, so structural errors go first.
	if err := p.Check(inputs); err != nil {
		return nil, err
	}
	if err := a.bindConstants(ctx, p, opts, inputCfg); err != nil {
		return nil, err
	}
	return p.Execute(ctx, a.frame, inputs, mode, inputCfg)
}

// bindConstants binds every unbound constant, by default to its own name.
func (a *App) bindConstants(ctx context.Context, p *plan.Plan, opts RunOptions, inputCfg plan.InputConfig) error {
	unbound := p.UnboundConstants()
	for name := range opts.Constants {
		if _, ok := p.Concept(name); !ok {
			return fmt.Errorf("%w: constant %s", plan.ErrUnregisteredConcept, name)
		}
	}
	if len(unbound) == 0 && len(opts.Constants) == 0 {
		return nil
	}

	values := make(map[string]any, len(unbound))
	for _, name := range unbound {
		values[name] = name
	}
	for name, raw := range opts.Constants {
		v, err := readValue(raw)
		if err != nil {
			return fmt.Errorf("constant %s: %w", name, err)
		}
		values[name] = v
	}

	mode := opts.ConstantMode
	if mode == "" {
		mode = plan.ModeAgent
	}
	cfg := inputCfg
	cfg.Template = prompt.ConstantTemplate
	a.logger.Debug("Binding constants", "count", len(values), "mode", mode)
	return p.BindConstants(ctx, a.frame, values, mode, cfg)
}

func (a *App) inputValues(p *plan.Plan, opts RunOptions) (map[string]any, error) {
	inputs := make(map[string]any, len(opts.Inputs)+len(opts.References))
	for name, raw := range opts.Inputs {
		v, err := readValue(raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = v
	}
	for name, path := range opts.References {
		c, ok := p.Concept(name)
		if !ok {
			return nil, fmt.Errorf("%w: reference input %s", plan.ErrUnregisteredConcept, name)
		}
		loaded, err := c.LoadReference(path)
		if err != nil {
			return nil, err
		}
		inputs[name] = loaded.Reference
	}
	return inputs, nil
}

// readValue resolves @file values and decodes JSON objects and arrays. Any
// other value is taken as text.
func readValue(raw string) (any, error) {
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(string(data))
	}
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, nil
		}
	}
	return raw, nil
}

// parseAssignments splits name=value pairs.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%q given twice", name)
		}
		out[name] = value
	}
	return out, nil
}

// writeResult prints a run result as JSON or as one line per present cell.
func writeResult(w io.Writer, ref *reference.Reference, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ref)
	case "text", "":
		return writeCells(w, ref)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeCells(w io.Writer, ref *reference.Reference) error {
	fmt.Fprintln(w, ref.String())
	axes := ref.Axes()
	shape := ref.Shape()
	idx := make([]int, len(shape))
	for {
		cell := make(reference.Index, len(axes))
		for i, axis := range axes {
			cell[axis] = idx[i]
		}
		v, err := ref.Get(cell)
		if err != nil {
			return err
		}
		if !reference.IsAbsent(v) {
			parts := make([]string, len(axes))
			for i, axis := range axes {
				parts[i] = fmt.Sprintf("%s=%d", axis, idx[i])
			}
			fmt.Fprintf(w, "  [%s] %s\n", strings.Join(parts, " "), prompt.Text(v))
		}
		if !next(idx, shape) {
			break
		}
	}
	return nil
}

// next advances idx over shape in row-major order.
func next(idx, shape []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < shape[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}
