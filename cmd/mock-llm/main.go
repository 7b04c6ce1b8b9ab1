// Package main implements a mock oracle server for running plans offline.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, routing by the "model" field in the request and, when rules are
// given, by the prompt.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are named by model: "mock-bullet.json" answers model
// "mock-bullet". Numbered files ("mock-bullet.1.json", "mock-bullet.2.json")
// are served in order before the base file, which then repeats. Free-text
// replies use .txt files. A rules.yaml file maps prompt substrings to replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	verbose := flag.Bool("v", false, "log every request")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	if err := run(*fixtureDir, *port, logger); err != nil {
		logger.Error("Mock LLM server failed", "error", err)
		os.Exit(1)
	}
}

func run(fixtureDir string, port int, logger *slog.Logger) error {
	fixtures, err := loadFixtures(fixtureDir)
	if err != nil {
		return fmt.Errorf("load fixtures from %s: %w", fixtureDir, err)
	}
	logger.Info("Loaded fixtures", "dir", fixtureDir, "models", len(fixtures.sequences), "rules", len(fixtures.rules))
	for model, seq := range fixtures.sequences {
		logger.Debug("Fixture model", "model", model, "replies", len(seq))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newServer(fixtures, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock LLM server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
