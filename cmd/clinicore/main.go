package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"clinicore/internal/api"
	"clinicore/internal/audit"
	"clinicore/internal/config"
	"clinicore/internal/records"
	"clinicore/internal/snapshot"
	"clinicore/internal/upstream"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

// App holds the application components
type App struct {
	config    *config.Config
	store     *records.Store
	auditor   *audit.Recorder
	upstream  *upstream.Client
	snapshots *snapshot.Runner
	logger    *zap.Logger
}

func main() {
	// Handle subcommands before flag parsing
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			handleExportCommand(os.Args[2:])
			return
		case "status":
			handleStatusCommand()
			return
		case "search":
			handleSearchCommand(os.Args[2:])
			return
		case "summary":
			handleSummaryCommand(os.Args[2:])
			return
		case "help", "--help", "-h":
			printExtendedHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("clinicore version %s\n", version)
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting clinicore", zap.String("version", version))

	if err := config.LoadEnvFiles(); err != nil {
		logger.Warn("Failed to load .env files", zap.Error(err))
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	app.runServer()
}

// buildApp wires the store, audit trail, upstream client, and snapshot
// runner from config.
func buildApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	// Audit trail is best-effort; the store runs without it.
	db, err := audit.OpenDB(cfg.Storage.AuditPath)
	if err != nil {
		logger.Warn("Audit trail disabled", zap.Error(err))
	} else {
		app.auditor, err = audit.NewRecorder(db, logger)
		if err != nil {
			logger.Warn("Audit trail disabled", zap.Error(err))
			app.auditor = nil
		}
	}

	backend, err := records.OpenBadger(cfg.Storage.BadgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record backend: %w", err)
	}

	opts := records.Options{
		FlushDelay: time.Duration(cfg.Storage.FlushDelayMs) * time.Millisecond,
	}
	if app.auditor != nil {
		opts.Auditor = app.auditor
	}

	app.store, err = records.Open(backend, opts, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	app.upstream = upstream.New(cfg.Upstream, logger)

	if cfg.Snapshot.Enabled {
		app.snapshots = snapshot.NewRunner(app.store, cfg.Snapshot, logger)
	}

	return app, nil
}

func (app *App) runServer() {
	if app.snapshots != nil {
		if err := app.snapshots.Start(); err != nil {
			app.logger.Error("Failed to start snapshot runner", zap.Error(err))
		} else {
			app.logger.Info("Snapshot runner started",
				zap.String("schedule", app.config.Snapshot.Schedule))
		}
	}

	// Hot-reload upstream limits and snapshot retention
	watchPath := *configPath
	if watchPath == "" {
		watchPath = filepath.Join(app.config.Storage.DataDir, "clinicore.yaml")
	}
	config.Watch(watchPath, app.logger, func(cfg *config.Config) {
		app.upstream.UpdateLimits(cfg.Upstream)
		if app.snapshots != nil {
			app.snapshots.UpdateRetention(cfg.Snapshot.Keep)
		}
	})

	server := api.New(app.config, app.store, app.upstream, app.auditor, app.snapshots, app.logger)

	go func() {
		if err := server.Start(); err != nil {
			app.logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.logger.Info("Server started",
		zap.String("address", app.config.Server.Address),
		zap.Int("port", app.config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.config.Server.Port)),
	)

	counts := app.store.Counts()
	app.logger.Info("Record store ready",
		zap.Int("patients", counts["patients"]),
		zap.Int("collections", len(counts)),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info("Shutting down...")

	if app.snapshots != nil {
		app.snapshots.Stop()
	}

	if err := server.Shutdown(); err != nil {
		app.logger.Error("Server shutdown error", zap.Error(err))
	}

	// Close flushes pending writes before releasing the backend.
	if err := app.store.Close(); err != nil {
		app.logger.Error("Store close error", zap.Error(err))
	}
}

// openReadOnly builds a store for one-shot commands without starting
// the server.
func openReadOnly() (*records.Store, *zap.Logger) {
	logger := zap.NewNop()

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	backend, err := records.OpenBadger(cfg.Storage.BadgerPath)
	if err != nil {
		fmt.Printf("Error opening record backend: %v\n", err)
		os.Exit(1)
	}

	st, err := records.Open(backend, records.Options{}, logger)
	if err != nil {
		fmt.Printf("Error opening record store: %v\n", err)
		os.Exit(1)
	}
	return st, logger
}

func handleExportCommand(args []string) {
	outputFile := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 < len(args) {
				outputFile = args[i+1]
				i++
			}
		case "-h", "--help":
			fmt.Println("Usage: clinicore export [-o <file>]")
			fmt.Println()
			fmt.Println("Writes the full record document as indented JSON.")
			fmt.Println("Without -o the document goes to stdout.")
			return
		}
	}

	st, _ := openReadOnly()
	defer st.Close()

	data, err := st.ExportDocument()
	if err != nil {
		fmt.Printf("Error exporting records: %v\n", err)
		os.Exit(1)
	}
	if outputFile == "" {
		fmt.Println(string(data))
		return
	}

	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		fmt.Printf("Error writing export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Exported records to %s\n", outputFile)
}

func handleStatusCommand() {
	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, _ := openReadOnly()
	defer st.Close()

	fmt.Println("Clinicore Status")
	fmt.Println("================")
	fmt.Println()
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Data:    %s\n", cfg.Storage.DataDir)
	fmt.Printf("Badger:  %s\n", cfg.Storage.BadgerPath)
	fmt.Printf("Audit:   %s\n", cfg.Storage.AuditPath)
	fmt.Println()
	fmt.Println("Server Configuration:")
	fmt.Printf("  Address: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Printf("  URL: http://localhost:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("Collections:")
	for name, count := range st.Counts() {
		fmt.Printf("  %-16s %d\n", name, count)
	}
	fmt.Println()
	if cfg.Upstream.BaseURL != "" {
		fmt.Printf("Clinical API: %s\n", cfg.Upstream.BaseURL)
	} else {
		fmt.Println("Clinical API: not configured")
	}
	if cfg.Snapshot.Enabled {
		fmt.Printf("Snapshots: enabled (%s, keep %d)\n", cfg.Snapshot.Schedule, cfg.Snapshot.Keep)
	} else {
		fmt.Println("Snapshots: disabled")
	}
}

func handleSearchCommand(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: clinicore search <term>")
		os.Exit(1)
	}

	st, _ := openReadOnly()
	defer st.Close()

	matches := st.SearchPatients(args[0])
	if len(matches) == 0 {
		fmt.Println("No matching patients")
		return
	}

	for _, p := range matches {
		fmt.Printf("%s  %s %s  (%s, %s)\n", p.ID, p.FirstName, p.LastName, p.Condition, p.Phone)
	}
}

func handleSummaryCommand(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: clinicore summary <patient-id>")
		os.Exit(1)
	}

	st, _ := openReadOnly()
	defer st.Close()

	summary := st.PatientSummary(args[0])
	if summary == nil {
		fmt.Printf("Patient '%s' not found\n", args[0])
		os.Exit(1)
	}

	p := summary.Patient
	fmt.Printf("%s %s (%s)\n", p.FirstName, p.LastName, p.ID)
	fmt.Printf("Age: %d | Gender: %s | Condition: %s | Phone: %s\n", p.Age, p.Gender, p.Condition, p.Phone)
	fmt.Println()

	if summary.LatestVitals != nil {
		v := summary.LatestVitals
		fmt.Printf("Latest vitals (%s %s):\n", v.Date, v.Time)
		fmt.Printf("  Temp: %s | HR: %s | BP: %s | Resp: %s | SpO2: %s\n",
			v.Temperature, v.HeartRate, v.BloodPressure, v.RespiratoryRate, v.OxygenSaturation)
		fmt.Println()
	}

	if len(summary.ActiveCarePlans) > 0 {
		fmt.Println("Active care plans:")
		for _, cp := range summary.ActiveCarePlans {
			fmt.Printf("  %s %s (%d%%)\n", cp.ID, cp.PlanType, cp.Progress)
		}
		fmt.Println()
	}

	if len(summary.CurrentMedications) > 0 {
		fmt.Println("Current medications:")
		for _, m := range summary.CurrentMedications {
			fmt.Printf("  %s %s %s %s\n", m.ID, m.MedicationName, m.Dosage, m.Frequency)
		}
		fmt.Println()
	}

	if len(summary.RecentHistory) > 0 {
		fmt.Println("Recent history:")
		for _, h := range summary.RecentHistory {
			fmt.Printf("  %s  %s (%s)\n", h.Date, h.Diagnosis, h.Doctor)
		}
	}
}

func printExtendedHelp() {
	fmt.Println("Clinicore - Clinical Record Service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clinicore                       Run the API server (default)")
	fmt.Println("  clinicore serve                 Run the API server")
	fmt.Println()
	fmt.Println("Record Commands:")
	fmt.Println("  clinicore export [-o <file>]    Export the record document as JSON")
	fmt.Println("  clinicore search <term>         Search patients by name, ID, or phone")
	fmt.Println("  clinicore summary <patient-id>  Show a patient's clinical summary")
	fmt.Println()
	fmt.Println("System:")
	fmt.Println("  clinicore status                Show configuration and record counts")
	fmt.Println("  clinicore version               Show version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config <path>          Path to config file")
	fmt.Println("  --data <path>            Path to data directory")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CLINICORE_SERVER_PORT, CLINICORE_UPSTREAM_BASE_URL, ...")
}
