package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/verdikt/pkg/auth"
	cfgPkg "github.com/xhad/verdikt/pkg/config"
	"github.com/xhad/verdikt/pkg/pipeline"
	"github.com/xhad/verdikt/server"
	"go.uber.org/zap"
)

type Flags struct {
	ConfigPath string
	Mode       string
	Input      string
	Addr       string
	Workers    int
	Memory     bool
	Debug      bool
}

func main() {
	flags := parseFlags()

	config, err := loadConfig(flags)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(flags.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch flags.Mode {
	case "serve":
		err = serve(ctx, config, logger)
	case "ingest":
		err = ingest(ctx, config, logger, flags.Input)
	default:
		err = fmt.Errorf("unknown mode %q (want serve or ingest)", flags.Mode)
	}
	if err != nil {
		logger.Fatal("verdikt exited with error", zap.Error(err))
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.Mode, "mode", "serve", "Run mode: serve or ingest")
	flag.StringVar(&flags.Input, "input", "", "File with decision ids for ingest mode (default stdin)")
	flag.StringVar(&flags.Addr, "addr", "", "HTTP listen address")
	flag.IntVar(&flags.Workers, "workers", 0, "Number of pipeline workers")
	flag.BoolVar(&flags.Memory, "memory", false, "Use the local badger-backed vector index and a SQLite registry")
	flag.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	return flags
}

func loadConfig(flags Flags) (*cfgPkg.Config, error) {
	config, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Command line flags override the config file
	if flags.Addr != "" {
		config.Server.Addr = flags.Addr
	}
	if flags.Workers > 0 {
		config.Queue.Workers = flags.Workers
	}
	if flags.Memory {
		config.VectorStore.Type = "memory"
		config.Registry.Driver = "sqlite"
	}

	if errs := config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return config, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, config *cfgPkg.Config, logger *zap.Logger) error {
	authn, err := auth.NewStaticAuthenticator(config.Auth.Tokens)
	if err != nil {
		return fmt.Errorf("failed to load auth tokens: %w", err)
	}

	a, err := newApp(ctx, config, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.pool.Start(ctx); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:         config.Server.Addr,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		Logger:       logger.Named("server"),
	}, server.Deps{
		Auth:       authn,
		Submitter:  a.submit,
		Searcher:   a.search,
		Subscriber: a.hub,
		Counters: map[string]server.Counter{
			"vectors": a.store.Count,
			"queued":  a.queue.Len,
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("decisions"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// ingest submits every id found in the input, runs the workers in-process
// and returns once each accepted decision has a final result.
func ingest(ctx context.Context, config *cfgPkg.Config, logger *zap.Logger, input string) error {
	text, err := readInput(input)
	if err != nil {
		return err
	}

	finals := make(chan pipeline.Result, 16)
	stopped := make(chan struct{})
	a, err := newApp(ctx, config, logger, func(res pipeline.Result) {
		if !res.Final {
			return
		}
		select {
		case finals <- res:
		case <-stopped:
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	channelKey := uuid.New().String()
	events, cancel := a.hub.Subscribe(channelKey)
	defer cancel()

	receipt, err := a.submit.Submit(ctx, channelKey, text)
	if err != nil {
		return err
	}
	color.Blue("\nIngesting %d decisions (%d ids in input)\n", len(receipt.Accepted), len(receipt.Extracted))

	pending := make(map[string]bool, len(receipt.Accepted))
	for _, id := range receipt.Accepted {
		pending[id] = true
	}

	if err := a.pool.Start(ctx); err != nil {
		return err
	}

	bar := getProgressBar(len(receipt.Accepted), "Processing decisions...")
	outcome := make(map[string]pipeline.Result, len(receipt.Accepted))

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			close(stopped)
			bar.Finish()
			return ctx.Err()
		case ev := <-events:
			bar.Describe(color.BlueString("%s: %s", ev.DecisionID, ev.Status))
		case res := <-finals:
			// Leftover jobs from an earlier run share the queue.
			if !pending[res.DecisionID] {
				continue
			}
			delete(pending, res.DecisionID)
			outcome[res.DecisionID] = res
			bar.Add(1)
		}
	}
	close(stopped)
	bar.Finish()
	a.pool.Stop()

	done, skipped := 0, 0
	var errored []pipeline.Result
	for _, id := range receipt.Accepted {
		res := outcome[id]
		switch res.Status {
		case pipeline.StatusSucceeded:
			done++
		case pipeline.StatusAlreadyDone:
			skipped++
		default:
			errored = append(errored, res)
		}
	}

	color.Green("\n✓ %d processed, %d already indexed\n", done, skipped)
	if len(errored) > 0 {
		color.Red("✗ %d failed\n", len(errored))
		for _, res := range errored {
			color.Red("  %s (%s): %v\n", res.DecisionID, res.Stage, res.Err)
		}
	}
	return nil
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return b.String(), nil
}
