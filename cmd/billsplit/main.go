package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/jspencer/billsplit/internal/expense"
	"github.com/jspencer/billsplit/internal/extraction"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("billsplit")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "billsplit.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./receipts", "Receipt image storage directory")
		providerChain = fs.StringLong("providers", "azure,tesseract", "Ordered extraction providers: comma-separated from 'azure', 'tesseract', 'gemini', 'remote'")
		azureEndpoint = fs.StringLong("azure-endpoint", "", "Azure Document Intelligence endpoint (or set AZURE_DOC_INTEL_ENDPOINT env var)")
		azureKey      = fs.StringLong("azure-key", "", "Azure Document Intelligence key (or set AZURE_DOC_INTEL_KEY env var)")
		ocrLanguage   = fs.StringLong("ocr-language", "eng", "Tesseract language code")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		remoteURL     = fs.StringLong("remote-url", "", "URL of a remote extraction endpoint (for the 'remote' provider)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILLSPLIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Build the extraction provider chain in the configured order
	var providers []extraction.Provider
	for _, name := range strings.Split(*providerChain, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch name {
		case "azure":
			endpoint := *azureEndpoint
			if endpoint == "" {
				endpoint = os.Getenv("AZURE_DOC_INTEL_ENDPOINT")
			}
			key := *azureKey
			if key == "" {
				key = os.Getenv("AZURE_DOC_INTEL_KEY")
			}
			provider, err := extraction.NewAzure(endpoint, key)
			if err != nil {
				slog.Error("Failed to initialize Azure provider", "error", err)
				os.Exit(1)
			}
			if !provider.Configured() {
				slog.Warn("Azure provider has no endpoint/key, extraction will fall through to the next provider")
			}
			providers = append(providers, provider)
		case "tesseract":
			provider, err := extraction.NewTesseract(*ocrLanguage)
			if err != nil {
				slog.Error("Failed to initialize Tesseract provider", "error", err)
				os.Exit(1)
			}
			providers = append(providers, provider)
		case "gemini":
			apiKey := *geminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey == "" {
				slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
				os.Exit(1)
			}
			slog.Info("Initializing Gemini provider...", "model", *geminiModel)
			provider, err := extraction.NewGemini(apiKey, *geminiModel)
			if err != nil {
				slog.Error("Failed to initialize Gemini provider", "error", err)
				os.Exit(1)
			}
			providers = append(providers, provider)
		case "remote":
			provider, err := extraction.NewRemote(*remoteURL)
			if err != nil {
				slog.Error("Failed to initialize remote provider", "error", err)
				os.Exit(1)
			}
			providers = append(providers, provider)
		default:
			slog.Error("Invalid provider", "name", name, "valid", "azure, tesseract, gemini or remote")
			os.Exit(1)
		}
	}

	chain, err := extraction.NewFallback(providers...)
	if err != nil {
		slog.Error("Failed to build extraction chain", "error", err)
		os.Exit(1)
	}
	defer chain.Close()
	slog.Info("Extraction chain ready", "providers", *providerChain)

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := expense.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	expenseService := expense.NewService(db, chain, store)

	// Initialize server
	basicAuth := expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := expense.NewServer(expenseService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
