// Command wtpsim runs the water treatment plant simulator: a virtual
// clock driving a stochastic process model, exposed over Modbus TCP
// and a live-push WebSocket feed (SPEC_FULL.md §7-§9).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pv/wtp-simulator/internal/engine"
	"github.com/pv/wtp-simulator/internal/modbus"
	"github.com/pv/wtp-simulator/internal/pushfeed"
	"github.com/pv/wtp-simulator/internal/trace"
	"github.com/pv/wtp-simulator/internal/trace/memstore"
	"github.com/pv/wtp-simulator/internal/trace/postgres"
	"github.com/pv/wtp-simulator/internal/trace/sqlite"
	"github.com/pv/wtp-simulator/pkg/config"
)

const version = "1.0.0-dev"

type options struct {
	modbusPort    uint
	dashboardPort uint
	speed         float64
	seed          int64
	seedSet       bool
	noAutoEvents  bool
	plantConfig   string
	generateCfg   string
	traceDB       string
	logFile       string
	debug         bool
	showVersion   bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if opts.showVersion {
		fmt.Println("wtpsim", version)
		return 0
	}

	if err := configureLogging(opts.logFile); err != nil {
		fmt.Fprintf(os.Stderr, "log file: %v\n", err)
		return 2
	}

	if opts.generateCfg != "" {
		if err := generateExampleConfig(opts.generateCfg); err != nil {
			log.Printf("write example config: %v", err)
			return 70
		}
		return 0
	}

	cfg, err := config.Load(opts.plantConfig)
	if err != nil {
		log.Printf("config: %v", err)
		return 2
	}

	seed := opts.seed
	if !opts.seedSet {
		seed = rand.Int63()
		log.Printf("no --seed given, using OS-randomised seed=%d", seed)
	}

	engine.SetDebugLogging(opts.debug)

	orch := engine.NewOrchestrator(cfg, seed, opts.speed, !opts.noAutoEvents, time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := openRecorder(ctx, opts.traceDB)
	if err != nil {
		log.Printf("trace recorder: %v", err)
		return 2
	}
	defer recorder.Close()
	orch.SetRecorder(recorder)

	modbusAddr := fmt.Sprintf(":%d", opts.modbusPort)
	bridge := modbus.NewServer(orch, modbusAddr)

	dashboardAddr := fmt.Sprintf(":%d", opts.dashboardPort)
	pushAddr := fmt.Sprintf(":%d", opts.dashboardPort+1)
	feed := pushfeed.New(orch)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", feed.ServeWS)
	pushSrv := &http.Server{Addr: pushAddr, Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		if err := bridge.Listen(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		err := pushSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- engine.NetworkError("pushfeed.Listen", err)
		}
	}()

	go orch.Run(ctx)

	log.Printf("wtpsim listening: modbus=%s push=%s (dashboard placeholder %s) speed=%.2f seed=%d",
		modbusAddr, pushAddr, dashboardAddr, opts.speed, seed)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("fatal: %v", err)
		return 70
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = pushSrv.Shutdown(shutdownCtx)

	return 0
}

func parseFlags() (options, error) {
	var opt options
	var seedStr string

	fs := flag.NewFlagSet("wtpsim", flag.ContinueOnError)
	fs.UintVar(&opt.modbusPort, "modbus-port", 502, "Modbus TCP listen port")
	fs.UintVar(&opt.dashboardPort, "dashboard-port", 8080, "dashboard HTTP port; push endpoint listens on port+1")
	fs.Float64Var(&opt.speed, "speed", 1.0, "wall-to-simulated time compression factor")
	fs.StringVar(&seedStr, "seed", "", "deterministic RNG seed (integer); omit for OS-randomised seed")
	fs.BoolVar(&opt.noAutoEvents, "no-auto-events", false, "disable Poisson-scheduled rain events (manual injection only)")
	fs.StringVar(&opt.plantConfig, "plant-config", "", "path to YAML plant configuration overlay")
	fs.StringVar(&opt.generateCfg, "generate-config", "", "write example plant config YAML to file ('-' for stdout) and exit")
	fs.StringVar(&opt.traceDB, "trace-db", "", "tick-trace recorder target: empty (memstore), file:path.db (sqlite), or postgres://... (postgres)")
	fs.StringVar(&opt.logFile, "log-file", "", "write logs to file instead of stderr")
	fs.BoolVar(&opt.debug, "debug", false, "enable verbose simulation debug logs")
	fs.BoolVar(&opt.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return options{}, err
	}

	if opt.speed <= 0 {
		return options{}, fmt.Errorf("--speed must be positive, got %v", opt.speed)
	}
	if opt.modbusPort == 0 || opt.modbusPort > 65535 {
		return options{}, fmt.Errorf("--modbus-port out of range: %d", opt.modbusPort)
	}
	if opt.dashboardPort == 0 || opt.dashboardPort >= 65535 {
		return options{}, fmt.Errorf("--dashboard-port out of range: %d", opt.dashboardPort)
	}
	if seedStr != "" {
		var v int64
		if _, err := fmt.Sscanf(seedStr, "%d", &v); err != nil {
			return options{}, fmt.Errorf("--seed must be an integer: %v", err)
		}
		opt.seed = v
		opt.seedSet = true
	}
	return opt, nil
}

// openRecorder builds the tick-trace backend named by --trace-db: a
// bounded in-memory ring when empty, sqlite for a "file:path.db" or
// "sqlite://..." source, postgres for a postgres(ql):// DSN.
func openRecorder(ctx context.Context, source string) (trace.Recorder, error) {
	switch {
	case source == "":
		return memstore.New(3600), nil
	case postgres.IsPostgresURL(source):
		return postgres.New(ctx, postgres.Config{ConnString: source})
	case sqlite.IsSource(source):
		return sqlite.New(ctx, sqlite.Config{Source: sqlite.NormalizeSource(source)})
	default:
		return nil, fmt.Errorf("--trace-db %q: not a recognised sqlite (*.db) or postgres:// source", source)
	}
}

func configureLogging(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	return nil
}

func generateExampleConfig(path string) error {
	if path == "" {
		path = "config/plant-example.yaml"
	}
	if path == "-" {
		_, err := os.Stdout.WriteString(config.ExampleYAML)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Example config written to %s\n", path)
	return nil
}
