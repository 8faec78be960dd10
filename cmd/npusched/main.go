package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/aristath/npusched/internal/config"
	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/persistence"
	"github.com/aristath/npusched/internal/pipeline"
	"github.com/aristath/npusched/internal/report"
	"github.com/aristath/npusched/internal/tracing"
	"github.com/aristath/npusched/internal/tui"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1 // At least one graph did not compile
	exitUsage  = 2
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	arch       string
	pool       string
	barriers   int
	jobs       int
	persist    string
	trace      string
	logLevel   string
	schedule   bool
	slots      bool
	progress   bool
	watch      string
	tui        bool
	saveConfig string
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("npusched", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: npusched [flags] graph.yaml...\n\n")
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "project config file (default .npusched/config.json over ~/.npusched/config.json)")
	fs.StringVar(&o.arch, "arch", "", "target arch preset (overrides config)")
	fs.StringVar(&o.pool, "pool", "", "fast memory pool size, e.g. 1MiB (overrides config)")
	fs.IntVar(&o.barriers, "barriers", 0, "physical barriers available (overrides config)")
	fs.IntVar(&o.jobs, "j", 0, "graphs compiled in parallel (overrides config)")
	fs.StringVar(&o.persist, "persist", "", "record runs in this SQLite database")
	fs.StringVar(&o.trace, "trace", "", "write OpenTelemetry spans to this file")
	fs.StringVar(&o.logLevel, "log-level", "warning", "log level: trace, debug, info, warning, error")
	fs.BoolVar(&o.schedule, "schedule", false, "print the memory schedule of every graph")
	fs.BoolVar(&o.slots, "slots", false, "print the barrier slot assignment of every graph")
	fs.BoolVar(&o.progress, "progress", false, "print batch progress to stderr")
	fs.StringVar(&o.watch, "watch", "", "stream the scheduling and barrier events of this graph to stderr")
	fs.BoolVar(&o.tui, "tui", false, "show a live view of the batch on a terminal stderr (falls back to -progress)")
	fs.StringVar(&o.saveConfig, "save-config", "", "write the effective configuration to this file and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

func loadConfig(o *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.Load("", o.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if o.arch != "" {
		cfg.Hardware.Arch = o.arch
	}
	if o.pool != "" {
		cfg.Hardware.PoolSize = o.pool
	}
	if o.barriers > 0 {
		cfg.Hardware.AvailableBarriers = o.barriers
	}
	if o.jobs > 0 {
		cfg.Concurrency = o.jobs
	}
	if o.persist != "" {
		cfg.Database = o.persist
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger), nil
}

// syncWriter serializes writes from the logger and the event subscribers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// terminal returns w as a file when it is an interactive terminal.
func terminal(w io.Writer) (*os.File, bool) {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return nil, false
	}
	return f, true
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rawStderr := stderr
	stderr = &syncWriter{w: stderr}
	o, paths, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	var tty *os.File
	if o.tui {
		var ok bool
		if tty, ok = terminal(rawStderr); !ok {
			o.progress = true
		}
	}

	// Log lines are held back while the live view owns the terminal
	var held bytes.Buffer
	logOut := stderr
	if tty != nil {
		logOut = &syncWriter{w: &held}
	}
	log, err := newLogger(o.logLevel, logOut)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitUsage
	}

	if o.saveConfig != "" {
		if err := config.Save(cfg, o.saveConfig); err != nil {
			fmt.Fprintf(stderr, "Error saving config: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "Configuration written to %s\n", o.saveConfig)
		return exitOK
	}

	if len(paths) == 0 {
		fmt.Fprintf(stderr, "Error: no graph files given\n")
		return exitUsage
	}

	target, err := pipeline.TargetFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if o.trace != "" {
		f, err := os.Create(o.trace)
		if err != nil {
			fmt.Fprintf(stderr, "Error creating trace file: %v\n", err)
			return exitUsage
		}
		defer f.Close()
		shutdown, err := tracing.Init(f, "npusched", version)
		if err != nil {
			fmt.Fprintf(stderr, "Error initializing tracing: %v\n", err)
			return exitUsage
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Failed to flush traces")
			}
		}()
	}

	dags := make([]*graph.DAG, 0, len(paths))
	for _, p := range paths {
		d, err := graph.Load(p)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		if d.Name == "" {
			d.Name = filepath.Base(p)
		}
		dags = append(dags, d)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := events.NewEventBus()
	popts := pipeline.Options{
		Concurrency: cfg.Concurrency,
		Logger:      log,
		Publisher:   bus,
	}
	if cfg.Database != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Database)
		if err != nil {
			fmt.Fprintf(stderr, "Error opening run database: %v\n", err)
			return exitUsage
		}
		defer store.Close()
		popts.Store = store
	}

	compiler, err := pipeline.NewCompiler(target, popts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	var wg sync.WaitGroup
	if tty != nil {
		prog := tea.NewProgram(tui.New(bus, o.watch, cancel), tea.WithOutput(tty))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := prog.Run(); err != nil {
				log.WithError(err).Warn("Live view stopped")
			}
		}()
	}
	if o.progress {
		ch := bus.Subscribe(events.TopicPipeline, 64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range ch {
				if p, ok := e.(events.BatchProgressEvent); ok {
					fmt.Fprintln(stderr, report.Progress(p, 60))
				}
			}
		}()
	}
	if o.watch != "" && tty == nil {
		ch := bus.SubscribeGraph(o.watch, 4096)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range ch {
				fmt.Fprintf(stderr, "%-18s %+v\n", e.EventType(), e)
			}
		}()
	}

	results, err := compiler.CompileAll(ctx, dags)
	bus.Close()
	wg.Wait()
	if tty != nil {
		io.Copy(stderr, &held)
		log.Logger.SetOutput(stderr)
	}
	if n := bus.Dropped(); n > 0 {
		log.WithField("dropped", n).Warn("Event subscribers fell behind")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Compilation interrupted: %v\n", err)
	}

	byName := make(map[string]*graph.DAG, len(dags))
	for _, d := range dags {
		byName[d.Name] = d
	}
	for _, r := range results {
		if r == nil || r.Err != nil {
			continue
		}
		if o.schedule {
			fmt.Fprintln(stdout, report.Schedule(byName[r.Graph], r.Schedule))
		}
		if o.slots {
			fmt.Fprintln(stdout, report.Barriers(r))
		}
	}
	fmt.Fprintln(stdout, report.Summary(results))

	if errs := report.Errors(results); errs != "" {
		fmt.Fprint(stderr, errs)
		return exitFailed
	}
	if err != nil {
		return exitFailed
	}
	return exitOK
}
