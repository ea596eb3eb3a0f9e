package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/document-pipeline/internal/adapters/mcp"
	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

func main() {
	serveMCP := flag.Bool("mcp", false, "serve the analyze_file tool over MCP stdio instead of analyzing one path")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: analyze <path>\n       analyze -mcp")
		flag.PrintDefaults()
	}
	flag.Parse()
	if !*serveMCP && flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg := config.Load()
	// stdout carries the result or the MCP stream, so logs go to stderr.
	logger := logging.NewLogger(os.Stderr, "document-pipeline-analyze", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer, closeFn, err := bootstrap.NewAnalyzer(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	if *serveMCP {
		err = server.ServeStdio(mcpadapter.NewServer(mcpadapter.NewHandlers(analyzer, logger)))
	} else {
		err = printAnalysis(ctx, analyzer, flag.Arg(0))
	}
	closeFn()
	if err != nil {
		logger.Error("analyze_failed", "error", err)
		os.Exit(1)
	}
}

func printAnalysis(ctx context.Context, analyzer ports.FileAnalyzer, path string) error {
	result, err := analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", path, err)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(result)
}
