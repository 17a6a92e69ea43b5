package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/config"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/hook"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/proxy"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/webvpn"
)

var version string

func main() {
	cfg, outputPath := parseFlagsAndConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, outputPath); err != nil {
		logger.Fatal("%v", err)
	}
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (cfg *config.Config, outputPath string) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "config.hcl", "Path to configuration file (supports .json and .hcl formats)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	output := flag.String("output", "", "Write the fetched notices to this file instead of stdout")
	flag.Parse()

	// Results go to stdout.
	logger.SetOutput(os.Stderr)

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("vbnproxy version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	logger.Debug("Using configuration file: %s", *configPathPtr)

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}

	logger.Debug("Proxied hosts: %s", strings.Join(cfg.Proxy.Match, ", "))
	logger.Debug("WebVPN portal: %s", cfg.Proxy.BaseURL)
	logger.Debug("Timeout: %d seconds", cfg.TimeoutSeconds)
	logger.Debug("Sources: %d", len(cfg.Sources))

	return cfg, *output
}

// run signs in to the WebVPN, fetches every configured source and writes the
// notices as JSON.
func run(ctx context.Context, cfg *config.Config, outputPath string) error {
	creds, err := config.LoadCredentials(os.Getenv)
	if err != nil {
		return err
	}

	codec, err := webvpn.NewCodec(cfg.Proxy.BaseURL, "")
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	hooks := hook.NewCollection(nil)

	logger.Info("Signing in to %s", cfg.Proxy.BaseURL)
	if _, err := proxy.Init(ctx, proxy.Setup{
		Config:      cfg.Proxy,
		Credentials: creds,
		NewClient: func(c config.Credentials) (proxy.Client, error) {
			return webvpn.NewClient(codec, c, webvpn.WithTimeout(timeout))
		},
		Codec:    codec,
		Registry: hooks,
	}); err != nil {
		return fmt.Errorf("failed to initialize WebVPN proxy: %w", err)
	}

	sources := make([]notice.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, notice.Source{
			Name:        src.Name,
			URL:         src.URL,
			Referer:     src.Referer,
			LinkPattern: src.LinkPattern,
		})
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := notice.NewFetcher(hooks, "vbnproxy/"+versionString()).FetchAll(fetchCtx, sources)
	if err != nil {
		return err
	}

	return writeResults(results, outputPath)
}

func writeResults(results []*notice.FetchResult, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(filepath.Clean(outputPath))
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				logger.Error("Error closing output file: %v", closeErr)
			}
		}()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}
