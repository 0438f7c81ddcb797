package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/rloo-trainer/rloo/checkpoint"
	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

var (
	configPath    string // Path to run.yaml
	workers       int    // In-process data-parallel workers
	seed          int64  // Seed for prompt and response sampling
	logLevel      string // Log verbosity level
	maxSteps      int    // Overrides trainer.max_steps when >= 0
	checkpointDir string // Enables file checkpoints in this directory
	metricsAddr   string // Serves /metrics when set
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "rloo",
	Short: "Data-parallel RLOO fine-tuning over simulated policies",
}

// runCmd trains an in-process fleet of workers
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every worker of a simulated fleet in this process",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg := loadConfig(cmd)

		logrus.Infof("Starting %d workers, seed=%d", workers, cfg.Seed)
		if err := runFleetProcess(cfg, workers, os.Stdout); err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		logrus.Info("Run complete.")
	},
}

// runFleetProcess trains an in-process fleet and writes the per-rank
// summary to w.
func runFleetProcess(cfg RunConfig, workers int, w io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		srv, err := startServer(metricsAddr, metricsRouter(registry))
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		defer srv.shutdown()
	}

	results, err := runFleet(ctx, cfg, workers, registry)
	if err != nil {
		return err
	}
	return printSummary(w, results)
}

// workerCmd runs one process of a multi-process fleet
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one worker; topology comes from RLOO_* environment variables",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg := loadConfig(cmd)
		e, err := LoadWorkerEnv()
		if err != nil {
			logrus.Fatalf("Invalid worker environment: %v", err)
		}

		if err := runWorkerProcess(cfg, e); err != nil {
			logrus.Fatalf("Worker failed: %v", err)
		}
	},
}

// runWorkerProcess serves the coordinator on rank 0, joins the group and
// trains until Fit returns. Listeners are shut down before it returns.
func runWorkerProcess(cfg RunConfig, e WorkerEnv) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if e.Rank == 0 {
		srv, err := startServer(e.ListenAddr, collective.NewCoordinator(e.WorldSize).Handler())
		if err != nil {
			return fmt.Errorf("starting coordinator: %w", err)
		}
		defer srv.shutdown()
	}
	if err := waitForCoordinator(ctx, e.CoordinatorAddr, e.StartupTimeout); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		srv, err := startServer(metricsAddr, metricsRouter(registry))
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		defer srv.shutdown()
	}

	runID := e.RunID
	if runID == "" {
		runID = cfg.Checkpoint.RunID
	}
	if runID == "" {
		runID = checkpoint.NewRunID()
		logrus.Warnf("No RLOO_RUN_ID or checkpoint.run_id set, using %s", runID)
	}

	group := collective.NewClient(e.Topology(), e.CoordinatorAddr, nil)
	res, err := runWorker(ctx, cfg, group, runID, registry)
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, []WorkerResult{res})
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadConfig reads --config and applies the flags the user set.
func loadConfig(cmd *cobra.Command) RunConfig {
	cfg, err := LoadRunConfig(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func applyFlags(cmd *cobra.Command, cfg *RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("max-steps") {
		cfg.Trainer.MaxSteps = maxSteps
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Checkpoint.Backend = checkpoint.BackendFile
		cfg.Checkpoint.Dir = checkpointDir
	}
}

// summary is the per-rank result printed when a run ends.
type summary struct {
	Rank             int     `yaml:"rank"`
	Step             int     `yaml:"step"`
	ConsumedSamples  int     `yaml:"consumed_samples"`
	OptimizationStep int     `yaml:"optimization_step"`
	MeanLength       float64 `yaml:"policy_mean_length"`
}

func printSummary(w io.Writer, results []WorkerResult) error {
	out := make([]summary, len(results))
	for i, r := range results {
		out[i] = summary{
			Rank:             r.Rank,
			Step:             r.State.Step,
			ConsumedSamples:  r.State.ConsumedSamples,
			OptimizationStep: r.State.OptimizationStep,
			MeanLength:       r.MeanLength,
		}
	}
	if _, err := fmt.Fprintln(w, "=== Run Summary ==="); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, workerCmd} {
		c.Flags().StringVar(&configPath, "config", "", "Path to the run configuration YAML")
		c.Flags().Int64Var(&seed, "seed", 42, "Seed for prompt and response sampling")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().IntVar(&maxSteps, "max-steps", -1, "Stop after this many steps; -1 keeps the configured value")
		c.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Write per-rank checkpoints to this directory")
		c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().IntVar(&workers, "workers", 2, "Number of in-process data-parallel workers")
}
