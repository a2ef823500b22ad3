package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"stgp/internal/gp"
	"stgp/internal/problem"
	"stgp/pkg/stgp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:], out)
	case "eval":
		return runEval(ctx, args[1:], out)
	case "primitives":
		return runPrimitives(ctx, args[1:], out)
	case "operators":
		return runOperators(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "history":
		return runHistory(ctx, args[1:], out)
	case "diagnostics":
		return runDiagnostics(ctx, args[1:], out)
	case "top":
		return runTop(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// logFlags are shared by every subcommand.
type logFlags struct {
	format *string
	level  *string
}

func addLogFlags(fs *flag.FlagSet) logFlags {
	return logFlags{
		format: fs.String("log-format", "text", "log format: text|json"),
		level:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
	}
}

func (f logFlags) logger() (*slog.Logger, error) {
	return newLogger(os.Stderr, *f.format, *f.level)
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// storeFlags select the run store for the read-only subcommands.
type storeFlags struct {
	kind         *string
	dbPath       *string
	artifactsDir *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	defaults := stgp.DefaultConfig().Run
	return storeFlags{
		kind:         fs.String("store", defaults.Store, "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", defaults.DBPath, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", defaults.ArtifactsDir, "run artifacts directory"),
	}
}

func (f storeFlags) client(logger *slog.Logger) (*stgp.Client, error) {
	return stgp.New(stgp.Options{
		StoreKind:    *f.kind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		Logger:       logger,
	})
}

func runRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config path (.yaml, .yml, .toml or .json)")
	logs := addLogFlags(fs)
	flagValues := registerOverrideFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&cfg, setFlags, flagValues); err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}

	client, err := stgp.New(stgp.Options{
		StoreKind:    cfg.Run.Store,
		DBPath:       cfg.Run.DBPath,
		ArtifactsDir: cfg.Run.ArtifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run completed run_id=%s problem=%s generations=%d evaluations=%s duration=%s\n",
		summary.RunID, summary.Problem, summary.Generations, humanize.Comma(int64(summary.Evaluations)), summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "best=%s\n", summary.BestExpression)
	fmt.Fprintf(out, "best_fitness=%.6g param=%.6g generation=%d test_mse=%.6g early_stopped=%t\n",
		summary.BestFitness, summary.BestParam, summary.BestGeneration, summary.TestMSE, summary.EarlyStopped)
	fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runEval(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config path (.yaml, .yml, .toml or .json)")
	expr := fs.String("expr", "", "expression to score; defaults to the problem's reference energy")
	logs := addLogFlags(fs)
	flagValues := registerOverrideFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&cfg, setFlags, flagValues); err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}
	if *expr == "" {
		*expr, err = referenceEnergy(cfg.Problem.Name)
		if err != nil {
			return err
		}
	}

	client, err := stgp.New(stgp.Options{StoreKind: "memory", Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Evaluate(ctx, cfg, *expr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "expr=%s\n", res.Expression)
	fmt.Fprintf(out, "train fitness=%.6g mse=%.6g param=%.6g fitted=%t\n", res.Train.Fitness, res.Train.MSE, res.Train.Param, res.Train.ParamFitted)
	if res.Test != nil {
		fmt.Fprintf(out, "test mse=%.6g\n", res.Test.MSE)
	}
	return nil
}

func referenceEnergy(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "poisson":
		return problem.PoissonReference, nil
	case "elastica":
		return problem.ElasticaReference, nil
	default:
		return "", fmt.Errorf("no reference energy for problem %q", name)
	}
}

func runPrimitives(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("primitives", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config path (.yaml, .yml, .toml or .json)")
	problemName := fs.String("problem", "", "problem name: "+strings.Join(problem.Names(), "|"))
	jsonOut := fs.Bool("json", false, "emit primitives as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	if *problemName != "" {
		cfg.Problem.Name = *problemName
	}

	client, err := stgp.New(stgp.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	prims, err := client.Primitives(cfg)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(prims)
	}
	for _, p := range prims {
		fmt.Fprintf(out, "%s(%s) -> %s\n", p.Name, strings.Join(p.In, ", "), p.Out)
	}
	return nil
}

func runOperators(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("operators", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	crossovers, mutations, generators := gp.ListOperators()
	fmt.Fprintf(out, "crossover: %s\n", strings.Join(crossovers, ", "))
	fmt.Fprintf(out, "mutation: %s\n", strings.Join(mutations, ", "))
	fmt.Fprintf(out, "generation: %s\n", strings.Join(generators, ", "))
	return nil
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit runs as JSON")
	stores := addStoreFlags(fs)
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}
	client, err := stores.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "run_id=%s problem=%s started=%s seed=%d generations=%d evaluations=%s best_fitness=%.6g test_mse=%.6g best=%s\n",
			r.ID, r.Problem, humanize.Time(r.StartedAt), r.Seed, r.Generations, humanize.Comma(int64(r.Evaluations)), r.BestFitness, r.TestMSE, r.BestExpression)
	}
	return nil
}

func runRefFlags(fs *flag.FlagSet) (*string, *bool) {
	return fs.String("run-id", "", "run id"), fs.Bool("latest", false, "use the most recent run")
}

func runRef(runID string, latest bool) (stgp.RunRef, error) {
	if runID != "" && latest {
		return stgp.RunRef{}, errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return stgp.RunRef{}, errors.New("requires --run-id or --latest")
	}
	return stgp.RunRef{RunID: runID, Latest: latest}, nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID, latest := runRefFlags(fs)
	limit := fs.Int("limit", 0, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit history as JSON")
	stores := addStoreFlags(fs)
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := runRef(*runID, *latest)
	if err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}
	client, err := stores.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, ref)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	for i, train := range history.Train {
		if *limit > 0 && i >= *limit {
			break
		}
		line := fmt.Sprintf("generation=%d train=%.6g", i, train)
		if i < len(history.Val) {
			line += fmt.Sprintf(" val=%.6g val_mse=%.6g", history.Val[i], history.ValMSE[i])
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID, latest := runRefFlags(fs)
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	stores := addStoreFlags(fs)
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := runRef(*runID, *latest)
	if err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}
	client, err := stores.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, ref)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(out, "generation=%d nevals=%d min=%.6g avg=%.6g max=%.6g std=%.6g best_len=%d best_height=%d\n",
			d.Generation, d.Evaluations, d.MinFitness, d.MeanFitness, d.MaxFitness, d.StdFitness, d.BestLength, d.BestHeight)
	}
	return nil
}

func runTop(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID, latest := runRefFlags(fs)
	stores := addStoreFlags(fs)
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := runRef(*runID, *latest)
	if err != nil {
		return err
	}
	logger, err := logs.logger()
	if err != nil {
		return err
	}
	client, err := stores.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopIndividuals(ctx, ref)
	if err != nil {
		return err
	}
	for _, ind := range top {
		fmt.Fprintf(out, "rank=%d fitness=%.6g param=%.6g len=%d height=%d expr=%s\n",
			ind.Rank, ind.Fitness, ind.Param, ind.Length, ind.Height, ind.Expression)
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: stgpctl <run|eval|primitives|operators|runs|history|diagnostics|top> [flags]", msg)
}
