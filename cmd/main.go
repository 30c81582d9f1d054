package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/xhad/cyberrag/internal/logging"
	"github.com/xhad/cyberrag/internal/models"
	cfgPkg "github.com/xhad/cyberrag/pkg/config"
)

type options struct {
	configPath  string
	ollamaURL   string
	model       string
	temperature float64
	maxTokens   int
	topK        int
	noStream    bool
	logLevel    string

	// build
	docsURL  string
	maxDepth int

	// serve
	addr string
}

const usage = `Usage: cyberrag [flags] <command>

Commands:
  build   load data/raw (and optionally crawl -url), embed and write the index
  chat    interactive question answering over the index
  serve   WebSocket server on -addr

Flags:
`

func main() {
	// .env is optional
	_ = godotenv.Load()

	opts := parseFlags()
	cfg, err := loadConfig(opts)
	if err != nil {
		color.Red("Configuration error: %v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// After the first interrupt a second one kills the process.
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := logging.New(os.Stderr, cfg.Log.Level)

	command := flag.Arg(0)
	if command == "" {
		command = "chat"
	}

	switch command {
	case "build":
		err = runBuild(ctx, cfg, opts, logger)
	case "chat":
		err = runChat(ctx, cfg, logger)
	case "serve":
		err = runServe(ctx, cfg, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, models.ErrStoreNotFound) {
			color.Red("Vector store not found: %v", err)
			color.Yellow("Run `cyberrag build` first to index the documents in %s.", cfg.Loader.RawDataDir)
		} else {
			color.Red("Error: %v", err)
		}
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&opts.model, "model", "", "LLM model to use")
	flag.Float64Var(&opts.temperature, "temperature", 0, "LLM temperature")
	flag.IntVar(&opts.maxTokens, "max-tokens", 0, "Maximum tokens for LLM response")
	flag.IntVar(&opts.topK, "top-k", 0, "Number of context chunks to retrieve")
	flag.BoolVar(&opts.noStream, "no-stream", false, "Wait for complete answers instead of streaming")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.docsURL, "url", "", "Documentation site to crawl during build")
	flag.IntVar(&opts.maxDepth, "max-depth", 0, "Maximum link depth when crawling")
	flag.StringVar(&opts.addr, "addr", "", "Listen address for serve")
	flag.Parse()

	return opts
}

// loadConfig reads the config file and lets explicit flags win.
func loadConfig(opts options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.ollamaURL != "" {
		if cfg.Embedding.BaseURL == cfg.LLM.BaseURL {
			cfg.Embedding.BaseURL = opts.ollamaURL
		}
		cfg.LLM.BaseURL = opts.ollamaURL
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.temperature > 0 {
		cfg.LLM.Temperature = opts.temperature
	}
	if opts.maxTokens > 0 {
		cfg.LLM.MaxTokens = opts.maxTokens
	}
	if opts.topK > 0 {
		cfg.Pipeline.TopK = opts.topK
	}
	if opts.noStream {
		cfg.UI.Streaming = false
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.maxDepth > 0 {
		cfg.Scraper.MaxDepth = opts.maxDepth
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(validationErrors(errs)...)
	}
	return cfg, nil
}

func validationErrors(errs []cfgPkg.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}
