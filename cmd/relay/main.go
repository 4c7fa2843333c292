package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/relay"
	relayconfig "github.com/deepnoodle-ai/relay/config"
	"github.com/deepnoodle-ai/relay/metrics"
	"github.com/deepnoodle-ai/relay/postgres"
	"github.com/deepnoodle-ai/relay/storage"
	"github.com/deepnoodle-ai/relay/tracing"
	"github.com/deepnoodle-ai/relay/webhook"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CLI configuration
type Config struct {
	ConfigFile  string
	WorkflowID  string
	PayloadFile string
	Inputs      map[string]interface{}
	BatchFile   string
	Concurrency int
	Timeout     time.Duration
	TraceDir    string
	StageDir    string
	OutputFile  string
	Gate        string
	Health      bool
	Verbose     bool
	JSON        bool
}

func main() {
	config := parseFlags()

	// Validate required arguments
	if config.ConfigFile == "" {
		color.Red("Error: config file is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := relayconfig.LoadFile(config.ConfigFile)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	logger := setupLogger(config, cfg)

	color.Blue("Webhook host: %s", cfg.Webhook.Endpoint)

	invoker, err := webhook.New(cfg.WebhookOptions(logger))
	if err != nil {
		log.Fatalf("Failed to create invoker: %v", err)
	}

	ctx := context.Background()

	orchestrator, cleanup, err := buildOrchestrator(ctx, config, cfg, invoker, logger)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer cleanup()

	// Health probe mode: report and exit
	if config.Health {
		if orchestrator.Healthy(ctx) {
			color.Green("Webhook host is healthy")
			return
		}
		color.Red("Webhook host is unhealthy")
		os.Exit(1)
	}

	// Batch mode
	if config.BatchFile != "" {
		runBatch(ctx, orchestrator, config)
		return
	}

	if config.WorkflowID == "" {
		color.Red("Error: workflow id is required")
		flag.Usage()
		os.Exit(1)
	}

	parameters := loadParameters(config)

	// Stage local artifacts before invoking, so the remote workflow can
	// find them under the session prefix.
	store, session := stageArtifacts(ctx, config, cfg, parameters, logger)

	executionID := relay.NewExecutionID()
	color.Green("Starting execution (ID: %s)...\n", executionID)

	startTime := time.Now()
	execution, err := orchestrator.Execute(ctx, relay.Request{
		ExecutionID: executionID,
		WorkflowID:  config.WorkflowID,
		Parameters:  parameters,
	})
	duration := time.Since(startTime)

	if store != nil && execution != nil && execution.Status.Terminal() {
		archiveExecution(ctx, store, session, execution)
	}
	if config.OutputFile != "" && err == nil {
		if saveErr := storage.SaveResponse(config.OutputFile, execution.Result); saveErr != nil {
			color.Yellow("Warning: could not save response: %v", saveErr)
		} else {
			color.Blue("Response saved to: %s", config.OutputFile)
		}
	}

	// Show execution results
	showExecutionResults(execution, err, duration, config)
}

func parseFlags() *Config {
	config := &Config{
		Inputs: make(map[string]interface{}),
	}

	// Define flags
	flag.StringVar(&config.ConfigFile, "config", "", "Path to the YAML relay configuration file (required)")
	flag.StringVar(&config.ConfigFile, "c", "", "Path to the YAML relay configuration file (shorthand)")

	flag.StringVar(&config.WorkflowID, "workflow", "", "Identifier of the remote workflow to invoke")
	flag.StringVar(&config.WorkflowID, "w", "", "Identifier of the remote workflow to invoke (shorthand)")

	flag.StringVar(&config.PayloadFile, "payload", "", "JSON file with workflow parameters (optional)")
	flag.StringVar(&config.PayloadFile, "p", "", "JSON file with workflow parameters (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Parameter in format key=value (can be used multiple times)")
	flag.Var(&inputFlags, "i", "Parameter in format key=value (shorthand, can be used multiple times)")

	flag.StringVar(&config.BatchFile, "batch", "", "JSONL file of requests to fan out (one JSON object per line)")
	flag.StringVar(&config.BatchFile, "b", "", "JSONL file of requests to fan out (shorthand)")

	flag.IntVar(&config.Concurrency, "concurrency", 0, "Maximum in-flight executions during batch fan-out")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Execution timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Execution timeout (shorthand)")

	flag.StringVar(&config.TraceDir, "traces", "", "Directory to store execution trace logs (optional)")

	flag.StringVar(&config.StageDir, "stage", "", "Directory of local files to upload before invoking (optional)")
	flag.StringVar(&config.StageDir, "s", "", "Directory of local files to upload before invoking (shorthand)")

	flag.StringVar(&config.OutputFile, "output", "", "File to save the response JSON to (optional)")
	flag.StringVar(&config.OutputFile, "o", "", "File to save the response JSON to (shorthand)")

	flag.StringVar(&config.Gate, "gate", "", "Expression that must be truthy for the execution to proceed")

	flag.BoolVar(&config.Health, "health", false, "Check webhook host health and exit")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output the terminal execution record as JSON")

	// Custom usage
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Relay CLI - Invoke workflows on a remote webhook host

Usage: %s [options] -config <relay.yaml> -workflow <id>

Examples:
  # Invoke a workflow with a payload file
  %s -config relay.yaml -workflow encode-video -payload payload.json

  # Invoke with inline parameters and execution traces
  %s -config relay.yaml -workflow encode-video -input quality=high -traces ./traces

  # Upload local artifacts first, archive the response after
  %s -config relay.yaml -workflow edit-images -stage ./res -output response.json

  # Fan out a batch of requests, four at a time
  %s -config relay.yaml -batch requests.jsonl -concurrency 4

  # Check webhook host health
  %s -config relay.yaml -health

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Batch Files:
  One JSON object per line: {"workflow_id": "...", "parameters": {...}}.
  Blank lines and lines starting with # are skipped.

Input Format:
  Use -input key=value for each parameter. Values are parsed as JSON if
  possible, otherwise as strings. Inputs override payload file entries.

Gate Expressions:
  The -gate expression runs before the first attempt and sees the globals
  execution, phase, attempt, and error. A falsy result vetoes the
  execution, e.g. -gate 'execution["parameters"]["env"] != "prod"'.

`)
	}

	flag.Parse()

	// Parse input flags
	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}

		key, value := parts[0], parts[1]

		// Try to parse as JSON, fallback to string
		var parsedValue interface{}
		if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
			parsedValue = value // Use as string if JSON parsing fails
		}

		config.Inputs[key] = parsedValue
	}

	return config
}

// Custom flag type for handling multiple input values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func setupLogger(config *Config, cfg *relayconfig.Config) *slog.Logger {
	if config.Verbose {
		return relay.NewLoggerWithLevel(slog.LevelDebug)
	}
	return relay.NewLoggerWithLevel(cfg.Level())
}

func buildOrchestrator(ctx context.Context, config *Config, cfg *relayconfig.Config, invoker relay.Invoker, logger *slog.Logger) (*relay.Orchestrator, func(), error) {
	cleanup := func() {}

	var tracers []relay.Tracer
	traceDir := config.TraceDir
	if traceDir == "" {
		traceDir = cfg.Traces.Dir
	}
	if traceDir != "" {
		tracers = append(tracers, relay.NewFileTracer(traceDir, logger))
		color.Blue("Execution traces: %s", traceDir)
	}
	if cfg.Traces.OpenTelemetry {
		if err := tracing.Init("relay", "dev", ""); err != nil {
			return nil, cleanup, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tracers = append(tracers, tracing.New(tracing.Options{}))
	}
	if cfg.Postgres.DSN != "" {
		history, err := postgres.Open(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to open history store: %w", err)
		}
		cleanup = func() { history.Close() }
		tracers = append(tracers, history)
		color.Blue("Execution history: postgres")
	}

	var tracer relay.Tracer
	switch len(tracers) {
	case 0:
	case 1:
		tracer = tracers[0]
	default:
		tracer = relay.NewMultiTracer(tracers...)
	}

	hooks := relay.NewHooks()
	hooks.SetLogger(logger)
	if config.Gate != "" {
		gate, err := relay.NewScriptHook(relay.ScriptHookOptions{
			Name:      "gate",
			Condition: config.Gate,
		})
		if err != nil {
			return nil, cleanup, err
		}
		if err := hooks.Register(relay.PhasePreExecution, gate); err != nil {
			return nil, cleanup, err
		}
		color.Magenta("Gate: %s", config.Gate)
	}
	if cfg.Metrics.Enabled {
		metricsHook := metrics.NewHook(metrics.Options{})
		if err := metricsHook.RegisterOn(hooks); err != nil {
			return nil, cleanup, err
		}
		if cfg.Metrics.Addr != "" {
			serveMetrics(cfg.Metrics.Addr, logger)
		}
	}
	if !hooks.Empty() {
		// Custom hooks suppress the default logging hook, so put it back.
		if err := hooks.RegisterAll(relay.NewLoggingHook(logger)); err != nil {
			return nil, cleanup, err
		}
	}

	executionTimeout := config.Timeout
	if executionTimeout == 0 {
		executionTimeout = cfg.Timeouts.Execution.Std()
	}
	concurrency := config.Concurrency
	if concurrency == 0 {
		concurrency = cfg.Batch.Concurrency
	}

	orchestrator, err := relay.New(relay.Options{
		Invoker:          invoker,
		Hooks:            hooks,
		Tracer:           tracer,
		Logger:           logger,
		Retry:            cfg.RetryPolicy(),
		Breaker:          cfg.BreakerOptions(logger),
		AttemptTimeout:   cfg.Timeouts.Attempt.Std(),
		ExecutionTimeout: executionTimeout,
		Concurrency:      concurrency,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return orchestrator, cleanup, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	color.Blue("Metrics: http://%s/metrics", addr)
}

// loadParameters merges the payload file with -input overrides.
func loadParameters(config *Config) map[string]interface{} {
	parameters := make(map[string]interface{})
	if config.PayloadFile != "" {
		payload, err := storage.LoadPayload(config.PayloadFile)
		if err != nil {
			color.Yellow("Warning: unable to read payload: %v", err)
		} else {
			parameters = payload
		}
	}
	for key, value := range config.Inputs {
		parameters[key] = value
	}
	return parameters
}

// stageArtifacts uploads every regular file in the staging directory under
// a fresh session prefix and records the prefix and file names in the
// parameters. Returns nils when staging is not configured.
func stageArtifacts(ctx context.Context, config *Config, cfg *relayconfig.Config, parameters map[string]interface{}, logger *slog.Logger) (*storage.Store, *storage.Session) {
	if config.StageDir == "" {
		return nil, nil
	}
	if cfg.Storage.BaseURL == "" {
		color.Red("Error: -stage requires storage.base_url in the config file")
		os.Exit(1)
	}
	if cfg.Storage.CredentialsFile != "" {
		credentials, err := storage.LoadCredentials(cfg.Storage.CredentialsFile)
		if err != nil {
			log.Fatalf("Failed to load storage credentials: %v", err)
		}
		if err := credentials.Apply(); err != nil {
			log.Fatalf("Failed to apply storage credentials: %v", err)
		}
	}

	store, err := storage.New(storage.Options{BaseURL: cfg.Storage.BaseURL, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	// Each run gets its own prefix under the workflow name, so repeated
	// invocations never overwrite each other's artifacts.
	session := storage.NewSession(config.WorkflowID).Child("")

	entries, err := os.ReadDir(config.StageDir)
	if err != nil {
		log.Fatalf("Failed to read staging directory: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		localPath := filepath.Join(config.StageDir, entry.Name())
		if err := store.UploadFile(ctx, localPath, session.Key(entry.Name())); err != nil {
			log.Fatalf("Failed to upload %s: %v", entry.Name(), err)
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	parameters["session_prefix"] = session.Prefix()
	parameters["files"] = names
	color.Blue("Staged %d files under %s", len(names), store.URI(session.Prefix()))
	return store, session
}

func archiveExecution(ctx context.Context, store *storage.Store, session *storage.Session, execution *relay.Execution) {
	locations, err := store.ArchiveExecution(ctx, session, execution)
	if err != nil {
		color.Yellow("Warning: could not archive execution: %v", err)
		return
	}
	color.Blue("Archived execution:")
	for _, location := range locations {
		fmt.Printf("  %s\n", location)
	}
}

func runBatch(ctx context.Context, orchestrator *relay.Orchestrator, config *Config) {
	requests, err := loadBatchFile(config.BatchFile)
	if err != nil {
		log.Fatalf("Failed to load batch file: %v", err)
	}

	color.Blue("Fanning out %d requests...", len(requests))

	startTime := time.Now()
	results := orchestrator.ExecuteBatch(ctx, requests)
	duration := time.Since(startTime)

	for i, result := range results {
		execution := result.Execution
		if result.Err != nil {
			color.Red("%3d  %-10s %s  %v", i+1, execution.Status, execution.WorkflowID, result.Err)
		} else {
			color.Green("%3d  %-10s %s", i+1, execution.Status, execution.WorkflowID)
		}
	}

	succeeded := relay.Succeeded(results)
	fmt.Printf("\n")
	color.White("Batch completed in %v", duration)
	if succeeded == len(results) {
		color.Green("All %d executions succeeded", len(results))
	} else {
		color.Red("%d of %d executions failed", len(results)-succeeded, len(results))
		os.Exit(1)
	}
}

func loadBatchFile(path string) ([]relay.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	type batchRequest struct {
		ExecutionID string                 `json:"execution_id"`
		WorkflowID  string                 `json:"workflow_id"`
		Parameters  map[string]interface{} `json:"parameters"`
	}

	var requests []relay.Request
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var req batchRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if req.WorkflowID == "" {
			return nil, fmt.Errorf("line %d: workflow_id is required", line)
		}
		requests = append(requests, relay.Request{
			ExecutionID: req.ExecutionID,
			WorkflowID:  req.WorkflowID,
			Parameters:  req.Parameters,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("no requests found in %s", path)
	}
	return requests, nil
}

func showExecutionResults(execution *relay.Execution, err error, duration time.Duration, config *Config) {
	if config.JSON {
		record, jsonErr := json.MarshalIndent(execution, "", "  ")
		if jsonErr != nil {
			log.Fatalf("Failed to format execution record: %v", jsonErr)
		}
		fmt.Println(string(record))
		if err != nil {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 50))
	color.White("WORKFLOW RESPONSE SUMMARY")
	fmt.Println(strings.Repeat("=", 50))

	if err != nil {
		color.Red("Status: %s", strings.ToUpper(string(execution.Status)))
		color.Red("Error: %v", err)
	} else {
		color.Green("Status: %s", strings.ToUpper(string(execution.Status)))
	}
	color.White("Execution: %s", execution.ID)
	color.White("Completed in %v", duration)
	if attempts, ok := execution.Metadata["attempts"]; ok {
		color.White("Attempts: %v", attempts)
	}

	if err == nil && execution.Result != nil {
		fmt.Printf("\n")
		color.Magenta("Result:")
		if resultBytes, jsonErr := json.MarshalIndent(execution.Result, "", "  "); jsonErr == nil {
			fmt.Println(string(resultBytes))
		} else {
			fmt.Printf("%v\n", execution.Result)
		}
	}

	if err != nil {
		os.Exit(1)
	}
}
