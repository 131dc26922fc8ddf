// imagepref is an interactive curator console: it imports a corpus from a
// static server, records liked/disliked decisions, trains the preference
// classifier and lists suggested images.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-imagepref"
	"github.com/anatolykoptev/go-imagepref/pgstore"
	"github.com/anatolykoptev/go-imagepref/rediscache"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitFailure
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	icfg := &imagepref.Config{
		BaseURL:      cfg.BaseURL,
		FetchRate:    cfg.FetchRate,
		StartupDelay: cfg.StartupDelay,
	}
	if cfg.StartupDelay == 0 {
		icfg.StartupDelay = -1
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			return exitFailure
		}
		defer pool.Close()
		backend := pgstore.New(pool)
		if err := backend.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			return exitFailure
		}
		icfg.Backend = backend
	}

	if cfg.RedisURL != "" {
		cache, err := rediscache.NewFromURL(cfg.RedisURL, "imagepref", 0)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			return exitFailure
		}
		defer cache.Close()
		icfg.Cache = cache
	} else {
		cache, err := imagepref.NewLRUCache(cfg.CacheSize)
		if err != nil {
			slog.Error("failed to create cache", "error", err)
			return exitFailure
		}
		icfg.Cache = cache
	}

	session := imagepref.NewSession(icfg)
	if err := session.SetThreshold(cfg.Threshold); err != nil {
		slog.Error("invalid threshold", "error", err)
		return exitFailure
	}

	dispatcher := imagepref.NewDispatcher(session, imagepref.StatusFunc(printStatus), 0)
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	if err := dispatcher.Enqueue(ctx, imagepref.ImportCommand{}); err != nil {
		slog.Error("failed to queue bootstrap import", "error", err)
		return exitFailure
	}

	fmt.Println("imagepref ready, type help for commands")
	readLoop(ctx, dispatcher)

	dispatcher.Close()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("dispatcher stopped", "error", err)
		return exitFailure
	}
	return exitSuccess
}

// readLoop feeds stdin lines to the dispatcher until quit, EOF or ctx is done.
func readLoop(ctx context.Context, d *imagepref.Dispatcher) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.EqualFold(strings.TrimSpace(line), "help") {
				fmt.Println(helpText)
				continue
			}
			cmd, err := parseLine(line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if cmd == nil {
				continue
			}
			if err := d.Enqueue(ctx, cmd); err != nil {
				return
			}
		}
	}
}

func printStatus(s imagepref.Status) {
	ts := s.At.Format(time.TimeOnly)
	if s.Err != nil {
		fmt.Printf("[%s] %s: %s (%v)\n", ts, s.Command, s.Message, s.Err)
		return
	}
	fmt.Printf("[%s] %s: %s\n", ts, s.Command, s.Message)
}
