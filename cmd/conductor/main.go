package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/logger"
	"conductor/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "validate":
		if err := runValidate(); err != nil {
			fmt.Fprintf(os.Stderr, "validate: %v\n", err)
			os.Exit(1)
		}
	case "workers":
		if err := runWorkers(); err != nil {
			fmt.Fprintf(os.Stderr, "workers: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'conductor --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`conductor - intent-routed task coordination

USAGE:
    conductor [COMMAND] [FLAGS]

COMMANDS:
    validate    Check the config file and exit
    workers     Print configured workers and their capabilities

    (no command) - Dispatch a request through the coordinator

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)
    --request PATH   Request JSON file; "-" reads stdin (default: "-")
    --caller ID      Caller ID override for quota accounting
    --watch          Stay up after dispatch and run scheduled maintenance

CONFIGURATION:
    Config file: ./config.yaml
    Environment: CONDUCTOR_* variables override config

EXAMPLES:
    echo '{"payload":{"intent":"summarize","text":"..."}}' | conductor
    conductor --request req.json --caller team-a
    conductor validate --config /etc/conductor/config.yaml`)
}

type flags struct {
	Config  string
	Request string
	Caller  string
	Watch   bool
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("conductor", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.Config, "config", "./config.yaml", "config file path")
	fs.StringVar(&f.Request, "request", "-", `request JSON file; "-" reads stdin`)
	fs.StringVar(&f.Caller, "caller", "", "caller ID override")
	fs.BoolVar(&f.Watch, "watch", false, "stay up after dispatch and run scheduled maintenance")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func run() error {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	rt, cleanup, err := initRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	req, err := readRequest(f.Request)
	if err != nil {
		return err
	}
	if f.Caller != "" {
		req.CallerID = f.Caller
	}

	resp, err := rt.Coordinator.Dispatch(ctx, *req)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Println(string(out))

	if f.Watch && rt.Scheduler != nil {
		log.Info("watching; scheduled maintenance active (ctrl-c to exit)")
		<-ctx.Done()
	}
	return nil
}

func readRequest(path string) (*domain.Request, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}

	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("request payload is empty")
	}
	return &req, nil
}

func runValidate() error {
	f, err := parseFlags(os.Args[2:])
	if err != nil {
		return err
	}
	if _, err := config.Load(f.Config); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", f.Config)
	return nil
}

func runWorkers() error {
	f, err := parseFlags(os.Args[2:])
	if err != nil {
		return err
	}
	cfg, err := config.Load(f.Config)
	if err != nil {
		return err
	}

	for _, w := range cfg.Workers {
		provider := w.Provider
		if provider == "" {
			provider = cfg.LLM.DefaultProvider
		}
		fmt.Printf("%s  (%s, provider=%s, model=%s)\n", w.ID, w.Name, provider, w.Model)
		for _, c := range w.Capabilities {
			fmt.Printf("    %-24s confidence=%.2f  %s\n", c.Intent, c.Confidence, c.Description)
		}
	}
	if len(cfg.Workers) == 0 {
		fmt.Println("no workers configured")
	}
	return nil
}
