// Command flowkitd runs the workflow execution daemon: a polling
// scheduler that fires due cron triggers and a queue worker that
// executes jobs. With -file it instead runs a single YAML-defined
// workflow to completion and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/flowkit-dev/flowkit"
	"github.com/flowkit-dev/flowkit/handlers"
	"github.com/flowkit-dev/flowkit/postgres"
	"github.com/flowkit-dev/flowkit/sqlite"
	"github.com/goccy/go-json"
)

// Config holds CLI configuration.
type Config struct {
	WorkflowFile      string
	Inputs            map[string]any
	DBPath            string
	PostgresDSN       string
	SchedulerInterval time.Duration
	WorkerInterval    time.Duration
	BatchSize         int
	Timeout           time.Duration
	Verbose           bool
	JSON              bool
}

// backend is the full store surface the daemon needs; both the sqlite
// and postgres stores satisfy it.
type backend interface {
	flowkit.ExecutionStore
	flowkit.IntegrationStore
	flowkit.WorkflowSource
	flowkit.ListStore
	Close() error
}

func main() {
	config := parseFlags()

	logger := setupLogger(config)
	registry := flowkit.NewRegistry(handlers.DefaultHandlers(handlers.Options{
		WeatherAPIKey:   os.Getenv("OPENWEATHER_API_KEY"),
		ResendAPIKey:    os.Getenv("RESEND_API_KEY"),
		EmailFrom:       os.Getenv("EMAIL_FROM"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	})...)

	if config.WorkflowFile != "" {
		runOnce(config, registry, logger)
		return
	}
	runDaemon(config, registry, logger)
}

// runDaemon starts the scheduler and worker loops against a durable
// store and blocks until interrupted.
func runDaemon(config *Config, registry *flowkit.Registry, logger *slog.Logger) {
	var store backend
	var err error
	if config.PostgresDSN != "" {
		store, err = postgres.Open(config.PostgresDSN)
	} else {
		store, err = sqlite.Open(config.DBPath)
	}
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	queue := flowkit.NewJobQueue(store, "")
	engine, err := flowkit.NewEngine(flowkit.EngineOptions{
		Registry:     registry,
		Store:        store,
		Integrations: store,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	scheduler, err := flowkit.NewScheduler(flowkit.SchedulerOptions{
		Source: store,
		Store:  store,
		Queue:  queue,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	worker, err := flowkit.NewWorker(flowkit.WorkerOptions{
		Queue:     queue,
		Engine:    engine,
		Logger:    logger,
		BatchSize: config.BatchSize,
	})
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("flowkitd started",
		"worker_id", worker.ID(),
		"scheduler_interval", config.SchedulerInterval,
		"worker_interval", config.WorkerInterval)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx, config.SchedulerInterval)
	}()

	worker.Run(ctx, config.WorkerInterval)
	<-schedulerDone
	logger.Info("flowkitd stopped")
}

// runOnce executes a YAML-defined workflow against an in-memory store
// and prints the per-node outputs.
func runOnce(config *Config, registry *flowkit.Registry, logger *slog.Logger) {
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	graph, err := flowkit.LoadGraphFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}

	store := flowkit.NewMemoryStore()
	queue := flowkit.NewJobQueue(flowkit.NewMemoryListStore(), "")
	engine, err := flowkit.NewEngine(flowkit.EngineOptions{
		Registry:     registry,
		Store:        store,
		Integrations: store,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	worker, err := flowkit.NewWorker(flowkit.WorkerOptions{
		Queue:  queue,
		Engine: engine,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	workflow := &flowkit.Workflow{
		ID:       "local",
		UserID:   "local",
		Name:     config.WorkflowFile,
		IsActive: true,
		Nodes:    graph.Nodes(),
		Edges:    graph.Edges(),
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	execution, err := flowkit.TriggerManual(ctx, flowkit.TriggerOptions{
		Store: store,
		Queue: queue,
	}, workflow, config.Inputs)
	if err != nil {
		log.Fatalf("Failed to trigger workflow: %v", err)
	}
	color.Green("Starting execution (ID: %s)...\n", execution.ID)

	if _, err := worker.ProcessOne(ctx); err != nil {
		log.Fatalf("Execution failed: %v", err)
	}

	showResults(ctx, store, execution.ID, config)
}

func showResults(ctx context.Context, store *flowkit.MemoryStore, executionID string, config *Config) {
	execution, err := store.GetExecution(ctx, executionID)
	if err != nil {
		log.Fatalf("Failed to load execution: %v", err)
	}
	steps, err := store.ListSteps(ctx, executionID)
	if err != nil {
		log.Fatalf("Failed to load steps: %v", err)
	}

	if config.JSON {
		result := map[string]any{
			"execution_id": execution.ID,
			"status":       execution.Status,
			"duration_ms":  execution.DurationMS,
			"steps":        steps,
		}
		if execution.ErrorMessage != "" {
			result["error"] = execution.ErrorMessage
		}
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode results: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Println()
	if execution.Status == flowkit.ExecutionStatusSuccess {
		color.Green("Execution succeeded in %dms", execution.DurationMS)
	} else {
		color.Red("Execution failed: %s", execution.ErrorMessage)
	}
	for _, step := range steps {
		marker := color.GreenString("✓")
		if step.Status == flowkit.StepStatusFailed {
			marker = color.RedString("✗")
		}
		fmt.Printf("%s %s (%s) %dms\n", marker, step.NodeID, step.NodeType, step.DurationMS)
		if step.ErrorMessage != "" {
			color.Red("    %s", step.ErrorMessage)
		} else if len(step.OutputData) > 0 {
			if output, err := json.MarshalIndent(step.OutputData, "    ", "  "); err == nil {
				fmt.Printf("    %s\n", string(output))
			}
		}
	}
}

func parseFlags() *Config {
	config := &Config{Inputs: make(map[string]any)}

	flag.StringVar(&config.WorkflowFile, "file", "", "Run a single YAML workflow and exit")
	flag.StringVar(&config.WorkflowFile, "f", "", "Run a single YAML workflow and exit (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Trigger input in key=value form (repeatable)")
	flag.Var(&inputFlags, "i", "Trigger input in key=value form (shorthand)")

	flag.StringVar(&config.DBPath, "db", "flowkit.db", "Path to the sqlite database")
	flag.StringVar(&config.PostgresDSN, "postgres", "", "PostgreSQL DSN; overrides -db when set")
	flag.DurationVar(&config.SchedulerInterval, "scheduler-interval", 30*time.Second, "Schedule polling interval (must stay under 60s)")
	flag.DurationVar(&config.WorkerInterval, "worker-interval", time.Second, "Queue polling interval")
	flag.IntVar(&config.BatchSize, "batch", 10, "Max jobs per queue drain")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Execution timeout for -file mode (e.g. 30s, 5m)")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable debug logging (shorthand)")
	flag.BoolVar(&config.JSON, "json", false, "JSON output (logs in daemon mode, results in -file mode)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `flowkitd - workflow execution daemon

Usage: %s [options]

Examples:
  # Run the daemon against a local sqlite database
  %s -db flowkit.db

  # Run the daemon against PostgreSQL
  %s -postgres "postgres://localhost/flowkit?sslmode=disable"

  # Execute one workflow file and exit
  %s -file workflow.yaml -input city=Lisbon

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Environment:
  OPENWEATHER_API_KEY  API key for data:weather nodes
  RESEND_API_KEY       API key for action:email nodes
  EMAIL_FROM           Default sender for action:email nodes
  ANTHROPIC_API_KEY    API key for logic:ai_summarizer nodes

Input Format:
  Use -input key=value per trigger input. Values parse as JSON when
  possible, otherwise as strings.

`)
	}

	flag.Parse()

	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}
		key, value := parts[0], parts[1]
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		config.Inputs[key] = parsed
	}

	return config
}

// stringSlice collects repeated flag values.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func setupLogger(config *Config) *slog.Logger {
	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}
	if config.JSON && config.WorkflowFile == "" {
		return flowkit.NewJSONLogger(level)
	}
	if config.WorkflowFile != "" && !config.Verbose {
		level = slog.LevelError
	}
	return flowkit.NewLogger(level)
}
