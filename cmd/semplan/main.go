// Package main provides the semplan binary entry point.
// Semplan executes plans: graphs of concepts whose values are inferred by
// oracle-backed agents, cell by cell over named axes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/semplan/llm/providers"

	"github.com/c360studio/semplan/config"
	"github.com/c360studio/semplan/graph"
	"github.com/c360studio/semplan/plan"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semplan"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logger     *slog.Logger
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Run concept plans with oracle-backed agents",
		Long: `Semplan executes plans: directed graphs of concepts connected by
perception and cognition edges. Every concept holds a tensor of values over
named axes; each inference asks an oracle to compute the target cell by cell.

Plans are read from DOT (.dot, .gv) or YAML (.yaml, .yml) files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			g.logger = newLogger(cmd.ErrOrStderr(), g.logLevel)
			slog.SetDefault(g.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(g),
		watchCmd(g),
		orderCmd(),
		describeCmd(),
		validateCmd(),
		viewsCmd(),
		initCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// runFlags are the flags of run and watch.
type runFlags struct {
	inputs       []string
	references   []string
	constants    []string
	constantMode string
	mode         string
	memory       string
	memoryPath   string
	parallel     int
	metricsAddr  string
	ancestry     bool
	dominating   []string
	output       string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringArrayVarP(&f.inputs, "input", "i", nil, "Input value as name=value; @path reads the value from a file")
	fs.StringArrayVar(&f.references, "reference", nil, "Input reference as name=path to a JSON array, bound as is")
	fs.StringArrayVar(&f.constants, "constant", nil, "Constant value as name=value (default: the concept name)")
	fs.StringVar(&f.constantMode, "constant-mode", string(plan.ModeAgent), "How constants are explained")
	fs.StringVar(&f.mode, "mode", "", "Input mode (overrides plan.input_mode)")
	fs.StringVar(&f.memory, "memory", "", "Memory backend: memory, file, sqlite or nats (overrides memory.backend)")
	fs.StringVar(&f.memoryPath, "memory-path", "", "Memory file or database (overrides memory.path)")
	fs.IntVar(&f.parallel, "parallel", 0, "Run independent inferences concurrently (overrides plan.parallelism)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	fs.BoolVar(&f.ancestry, "ancestry", false, "Replace node views with ancestry views")
	fs.StringSliceVar(&f.dominating, "dominating", nil, "Concepts treated as dominating axes by --ancestry")
	fs.StringVarP(&f.output, "output", "o", "text", "Output format: text or json")
}

// apply overlays the flags on cfg and returns the run options.
func (f *runFlags) apply(cfg *config.Config) (RunOptions, error) {
	if f.mode != "" {
		cfg.Plan.InputMode = f.mode
	}
	if f.memory != "" {
		cfg.Memory.Backend = f.memory
	}
	if f.memoryPath != "" {
		cfg.Memory.Path = f.memoryPath
	}
	if f.parallel > 0 {
		cfg.Plan.Parallelism = f.parallel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return RunOptions{}, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := RunOptions{
		Ancestry:   f.ancestry || len(f.dominating) > 0,
		Dominating: f.dominating,
	}
	var err error
	if opts.Inputs, err = parseAssignments(f.inputs); err != nil {
		return RunOptions{}, fmt.Errorf("--input: %w", err)
	}
	if opts.References, err = parseAssignments(f.references); err != nil {
		return RunOptions{}, fmt.Errorf("--reference: %w", err)
	}
	if opts.Constants, err = parseAssignments(f.constants); err != nil {
		return RunOptions{}, fmt.Errorf("--constant: %w", err)
	}
	if opts.ConstantMode, err = plan.ParseInputMode(f.constantMode); err != nil {
		return RunOptions{}, fmt.Errorf("--constant-mode: %w", err)
	}
	return opts, nil
}

// setup loads the configuration, applies the flags and creates the app.
func (f *runFlags) setup(ctx context.Context, g *globals) (*App, RunOptions, error) {
	cfg, err := config.NewLoader(g.logger).Load(g.configPath)
	if err != nil {
		return nil, RunOptions{}, fmt.Errorf("load config: %w", err)
	}
	opts, err := f.apply(cfg)
	if err != nil {
		return nil, RunOptions{}, err
	}
	app, err := NewApp(ctx, cfg, g.logger)
	if err != nil {
		return nil, RunOptions{}, err
	}
	return app, opts, nil
}

func runCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, opts, err := f.setup(ctx, g)
			if err != nil {
				return err
			}
			defer app.Close()

			ref, err := app.Run(ctx, args[0], opts)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), ref, f.output)
		},
	}
	f.register(cmd)
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "watch <plan>",
		Short: "Execute a plan and re-run it whenever its file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, opts, err := f.setup(ctx, g)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			rerun := func(ctx context.Context) {
				ref, err := app.Run(ctx, args[0], opts)
				if err != nil {
					g.logger.Error("Plan run failed", "plan", args[0], "error", err)
					return
				}
				if err := writeResult(out, ref, f.output); err != nil {
					g.logger.Error("Failed to write result", "error", err)
				}
			}
			rerun(ctx)

			w := newPlanWatcher(args[0], defaultDebounce, g.logger)
			return w.Run(ctx, rerun)
		},
	}
	f.register(cmd)
	return cmd
}

func orderCmd() *cobra.Command {
	var views viewFlags
	cmd := &cobra.Command{
		Use:   "order <plan>",
		Short: "Print the inferences in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPlan(args[0], views.options())
			if err != nil {
				return err
			}
			return writeOrder(cmd.OutOrStdout(), p)
		},
	}
	views.register(cmd)
	return cmd
}

func writeOrder(w io.Writer, p *plan.Plan) error {
	order, err := p.ExpectedOrder()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTARGET\tPERCEPTIONS\tCOGNITION\tVIEW")
	for i, inf := range order {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, inf.Target,
			strings.Join(inf.Perceptions, ", "), inf.Cognition, strings.Join(inf.View, ", "))
	}
	return tw.Flush()
}

func describeCmd() *cobra.Command {
	var views viewFlags
	cmd := &cobra.Command{
		Use:   "describe <plan>",
		Short: "Describe a plan's concepts, inputs, output and inferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPlan(args[0], views.options())
			if err != nil {
				return err
			}
			return p.Describe(cmd.OutOrStdout())
		},
	}
	views.register(cmd)
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <glob>",
		Short: "Check that every matching plan parses and orders",
		Long: `Validate loads every plan matching the pattern (** matches any number
of directories), builds it and computes its execution order, assuming
constants will be bound. It fails if any plan is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlans(cmd.OutOrStdout(), args[0])
		},
	}
}

// errInvalidPlans is returned by validate when at least one plan failed.
var errInvalidPlans = errors.New("invalid plans")

func validatePlans(w io.Writer, pattern string) error {
	paths, err := graph.Glob(pattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no plans match %q", pattern)
	}
	failed := 0
	for _, path := range paths {
		p, err := loadPlan(path, RunOptions{})
		if err == nil {
			_, err = p.ExpectedOrder()
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidPlans, failed, len(paths))
	}
	return nil
}

func viewsCmd() *cobra.Command {
	var dominating []string
	cmd := &cobra.Command{
		Use:   "views <plan>",
		Short: "Print the plan as DOT with ancestry views",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := graph.Load(args[0])
			if err != nil {
				return err
			}
			if err := graph.AssignAncestryViews(spec, dominating); err != nil {
				return err
			}
			return graph.WriteDOT(cmd.OutOrStdout(), spec)
		},
	}
	cmd.Flags().StringSliceVar(&dominating, "dominating", nil, "Concepts treated as dominating axes")
	return cmd
}

// viewFlags select ancestry views for the inspection commands.
type viewFlags struct {
	ancestry   bool
	dominating []string
}

func (v *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&v.ancestry, "ancestry", false, "Replace node views with ancestry views")
	cmd.Flags().StringSliceVar(&v.dominating, "dominating", nil, "Concepts treated as dominating axes by --ancestry")
}

func (v *viewFlags) options() RunOptions {
	return RunOptions{Ancestry: v.ancestry || len(v.dominating) > 0, Dominating: v.dominating}
}

func initCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default user configuration if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.NewLoader(g.logger).EnsureUserConfig()
		},
	}
}
