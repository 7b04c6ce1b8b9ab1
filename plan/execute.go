package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semplan/inference"
	"github.com/c360studio/semplan/metric"
	"github.com/c360studio/semplan/reference"
)

// Agent is what a plan needs from its executor: the three inference stages
// and an oracle that can explain raw inputs.
type Agent interface {
	inference.Agent

	// Explain answers a free-form prompt. It backs ModeAgent input binding.
	Explain(ctx context.Context, prompt string) (string, error)
}

// Execute binds inputs, runs every inference in dependency order and returns
// the output reference.
//
// Structural problems are reported before the first oracle call: missing I/O
// configuration, missing inputs, unknown input modes and ordering errors.
// Oracle failures inside cells only make those cells Absent; if nothing of the
// output survives, Execute returns ErrMissingOutput.
func (p *Plan) Execute(ctx context.Context, agent Agent, inputs map[string]any, mode InputMode, cfg InputConfig) (*reference.Reference, error) {
	runID := uuid.NewString()
	log := p.logger.With("run_id", runID)

	if err := p.checkInputs(inputs); err != nil {
		return nil, err
	}
	names, output := p.IO()
	if mode == "" {
		mode = ModeReplicate
	}
	if _, err := ParseInputMode(string(mode)); err != nil {
		return nil, err
	}
	if _, err := ParseRemember(string(cfg.Remember)); err != nil {
		return nil, err
	}

	order, err := p.Order()
	if err != nil {
		return nil, err
	}
	log.Info("Plan run started", "inputs", names, "output", output, "inferences", len(order), "mode", mode)
	start := time.Now()

	if err := p.bindAll(ctx, agent, names, inputs, mode, cfg); err != nil {
		return nil, err
	}

	if p.parallelism > 1 {
		err = p.runLevels(ctx, agent, log)
	} else {
		err = p.runSequential(ctx, agent, order, log)
	}
	if err != nil {
		return nil, err
	}

	out, _ := p.Concept(output)
	if !out.HasReference() || allAbsent(out.Reference.Data()) {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, output)
	}
	log.Info("Plan run completed", "output", output, "shape", out.Reference.Shape(), "duration", time.Since(start))
	return out.Reference, nil
}

// BindConstants binds values to registered base concepts and remembers them as
// constants. Values are interpreted like inputs.
func (p *Plan) BindConstants(ctx context.Context, agent Agent, values map[string]any, mode InputMode, cfg InputConfig) error {
	names := make([]string, 0, len(values))
	for name := range values {
		if _, ok := p.Concept(name); !ok {
			return fmt.Errorf("%w: constant %s", ErrUnregisteredConcept, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if _, err := ParseInputMode(string(mode)); err != nil {
		return err
	}

	if err := p.bindAll(ctx, agent, names, values, mode, cfg); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		if !slices.Contains(p.constants, name) {
			p.constants = append(p.constants, name)
		}
	}
	// Constants now hold references and count as initial concepts.
	p.order = nil
	return nil
}

func (p *Plan) bindAll(ctx context.Context, agent Agent, names []string, values map[string]any, mode InputMode, cfg InputConfig) error {
	for _, name := range names {
		c, ok := p.Concept(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnregisteredConcept, name)
		}
		bound, err := bind(ctx, agent, c, values[name], mode, cfg)
		if err != nil {
			return err
		}
		if err := p.Replace(bound); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) runSequential(ctx context.Context, agent Agent, order []*inference.Inference, log *slog.Logger) error {
	for i, inf := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("Executing inference", "step", i+1, "of", len(order), "target", inf.Target)
		if err := p.runOne(ctx, agent, inf, log); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) runLevels(ctx context.Context, agent Agent, log *slog.Logger) error {
	levels, err := p.Levels()
	if err != nil {
		return err
	}
	for i, level := range levels {
		log.Debug("Executing level", "level", i, "inferences", len(level))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.parallelism)
		for _, inf := range level {
			g.Go(func() error {
				return p.runOne(gctx, agent, inf, log)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) runOne(ctx context.Context, agent Agent, inf *inference.Inference, log *slog.Logger) error {
	start := time.Now()
	failed := 0
	out, err := inf.Execute(ctx, p, agent, inference.WithCellErrorHandler(func(idx reference.Index, err error) {
		failed++
		log.Debug("Cell degraded to absent", "target", inf.Target, "index", idx, "error", err)
	}))
	if err != nil {
		return fmt.Errorf("inference %s: %w", inf, err)
	}
	elapsed := time.Since(start)
	p.metrics.ObserveInference(inf.Target, elapsed)
	p.metrics.AddAbsent(metric.StageAction, failed)
	log.Info("Inference completed",
		"target", inf.Target,
		"shape", out.Reference.Shape(),
		"failed_cells", failed,
		"duration", elapsed)
	return nil
}

func allAbsent(node any) bool {
	if reference.IsAbsent(node) {
		return true
	}
	list, ok := node.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if !allAbsent(v) {
			return false
		}
	}
	return true
}

// Check reports the structural errors a run with inputs would fail on,
// without binding anything: unconfigured I/O, missing inputs and an order
// that cannot be computed even once every unbound constant is bound. Callers
// that bind constants through an oracle run it first.
func (p *Plan) Check(inputs map[string]any) error {
	if err := p.checkInputs(inputs); err != nil {
		return err
	}
	_, err := p.ExpectedOrder()
	return err
}

func (p *Plan) checkInputs(inputs map[string]any) error {
	names, output := p.IO()
	if len(names) == 0 || output == "" {
		return ErrIONotConfigured
	}
	var missing []string
	for _, name := range names {
		if _, ok := inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrMissingInput, missing)
	}
	return nil
}

// IsStructural reports whether err is a plan configuration error rather than
// a runtime failure.
func IsStructural(err error) bool {
	var cycle *CycleError
	return errors.As(err, &cycle) ||
		errors.Is(err, ErrUnregisteredConcept) ||
		errors.Is(err, ErrDuplicateProducer) ||
		errors.Is(err, ErrUnresolvableDependency) ||
		errors.Is(err, ErrIONotConfigured) ||
		errors.Is(err, ErrMissingInput) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, inference.ErrUnknownConcept) ||
		errors.Is(err, inference.ErrMissingReference) ||
		errors.Is(err, reference.ErrAxis) ||
		errors.Is(err, reference.ErrShapeMismatch)
}

var _ inference.Registry = (*Plan)(nil)
