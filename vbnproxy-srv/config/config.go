package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
)

// Defaults applied before the environment and the config file are read.
const (
	DefaultBaseURL        = "https://webvpn.bit.edu.cn"
	DefaultWarmupURL      = "http://mec.bit.edu.cn"
	DefaultTimeoutSeconds = 30
)

// Environment variables holding the WebVPN secrets.
const (
	EnvUsername = "PROXY_USERNAME"
	EnvPassword = "PROXY_PASSWORD"
)

// ErrMissingCredentials is returned when either secret is absent from the environment.
var ErrMissingCredentials = errors.New("VirtualBIT credentials not found in environment variables")

// ProxyConfig holds the settings of the WebVPN routing layer.
type ProxyConfig struct {
	Match     []string // Hostnames that must be fetched through the WebVPN
	BaseURL   string   // WebVPN portal, e.g. https://webvpn.bit.edu.cn
	WarmupURL string   // Requested once after sign-in; empty disables the warm-up
}

// SourceConfig describes one notice listing page.
type SourceConfig struct {
	Name        string
	URL         string
	Referer     string // Optional Referer header sent with the request
	LinkPattern string // Optional regexp; only matching links become notices
}

// Config represents the main configuration structure.
type Config struct {
	Proxy          ProxyConfig
	Sources        []SourceConfig
	TimeoutSeconds int
	LogLevel       string
}

// Credentials are the WebVPN account secrets. They never come from the config file.
type Credentials struct {
	Username string
	Password string
}

// LoadCredentials reads the secrets through getenv (usually os.Getenv).
func LoadCredentials(getenv func(string) string) (Credentials, error) {
	creds := Credentials{
		Username: getenv(EnvUsername),
		Password: getenv(EnvPassword),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate fails if either secret is empty.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// String never reveals the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: <redacted>}", c.Username)
}

// LoadConfig loads configuration from the specified file path.
// An empty path yields the defaults plus environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		Proxy: ProxyConfig{
			BaseURL:   DefaultBaseURL,
			WarmupURL: DefaultWarmupURL,
		},
		TimeoutSeconds: DefaultTimeoutSeconds,
		LogLevel:       "INFO",
	}

	loadConfigFromEnv(cfg)

	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the invariants every consumer relies on.
func (c *Config) Validate() error {
	if len(c.Proxy.Match) == 0 {
		return fmt.Errorf("proxy.match must contain at least one hostname")
	}
	for i, host := range c.Proxy.Match {
		if host == "" || strings.ContainsAny(host, "/:") {
			return fmt.Errorf("proxy.match[%d] is not a hostname: %q", i, host)
		}
	}

	base, err := url.Parse(c.Proxy.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("proxy.base-url is not an absolute URL: %q", c.Proxy.BaseURL)
	}
	if c.Proxy.WarmupURL != "" {
		if _, err := url.ParseRequestURI(c.Proxy.WarmupURL); err != nil {
			return fmt.Errorf("proxy.warmup-url is invalid: %w", err)
		}
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout-seconds must be positive, got %d", c.TimeoutSeconds)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source without name")
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}

		u, err := url.Parse(src.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("source %q: url is not absolute: %q", src.Name, src.URL)
		}
		if src.LinkPattern != "" {
			if _, err := regexp.Compile(src.LinkPattern); err != nil {
				return fmt.Errorf("source %q: invalid link-pattern: %w", src.Name, err)
			}
		}
	}

	return nil
}

func openConfigFile(configPath string) (*os.File, error) {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return file, nil
}

func loadJSONConfig(configPath string, cfg *Config) error {
	file, err := openConfigFile(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first to handle the hyphenated keys
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	if val, exists := data["proxy"]; exists {
		proxyMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("proxy must be an object")
		}

		if matchVal, exists := proxyMap["match"]; exists {
			list, ok := matchVal.([]any)
			if !ok {
				return fmt.Errorf("proxy.match must be an array")
			}
			cfg.Proxy.Match = make([]string, 0, len(list))
			for i, item := range list {
				ptr, err := parseValue[string](item)
				if err != nil {
					return fmt.Errorf("proxy.match at index %d must be a string: %w", i, err)
				}
				cfg.Proxy.Match = append(cfg.Proxy.Match, *ptr)
			}
		}

		if baseVal, exists := proxyMap["base-url"]; exists {
			ptr, err := parseValue[string](baseVal)
			if err != nil {
				return fmt.Errorf("proxy.base-url must be a string: %w", err)
			}
			cfg.Proxy.BaseURL = *ptr
		}

		if warmVal, exists := proxyMap["warmup-url"]; exists {
			ptr, err := parseValue[string](warmVal)
			if err != nil {
				return fmt.Errorf("proxy.warmup-url must be a string: %w", err)
			}
			cfg.Proxy.WarmupURL = *ptr
		}
	}

	if val, exists := data["timeout-seconds"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			if strings.Contains(err.Error(), "secret") {
				return err
			}
			return fmt.Errorf("timeout-seconds must be a number")
		}
		cfg.TimeoutSeconds = *ptr
	}

	if val, exists := data["log-level"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("log-level must be a string: %w", err)
		}
		cfg.LogLevel = *ptr
	}

	if val, exists := data["sources"]; exists {
		sourceList, ok := val.([]any)
		if !ok {
			return fmt.Errorf("sources must be an array")
		}

		cfg.Sources = nil
		for i, item := range sourceList {
			sourceMap, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("source at index %d must be an object", i)
			}

			var src SourceConfig
			fields := []struct {
				key      string
				dst      *string
				required bool
			}{
				{"name", &src.Name, true},
				{"url", &src.URL, true},
				{"referer", &src.Referer, false},
				{"link-pattern", &src.LinkPattern, false},
			}
			for _, f := range fields {
				raw, exists := sourceMap[f.key]
				if !exists {
					if f.required {
						return fmt.Errorf("source at index %d requires %s field", i, f.key)
					}
					continue
				}
				ptr, err := parseValue[string](raw)
				if err != nil {
					return fmt.Errorf("%s at source index %d must be a string: %w", f.key, i, err)
				}
				*f.dst = *ptr
			}

			cfg.Sources = append(cfg.Sources, src)
		}
	}

	return nil
}

func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected %T, got fractional number %v", zero, v)
			}
			elem.SetInt(int64(v))
		default:
			return nil, fmt.Errorf("expected %T, got JSON number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	default:
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func loadConfigFromEnv(cfg *Config) {
	if timeoutStr := os.Getenv("VBNPROXY_TIMEOUTSECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.TimeoutSeconds = timeout
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for VBNPROXY_TIMEOUTSECONDS: %s\n", timeoutStr)
		}
	}

	if level := os.Getenv("VBNPROXY_LOGLEVEL"); level != "" {
		cfg.LogLevel = level
	}

	// Comma separated, e.g. VBNPROXY_MATCH=lib.bit.edu.cn,jwc.bit.edu.cn
	if match := os.Getenv("VBNPROXY_MATCH"); match != "" {
		cfg.Proxy.Match = nil
		for _, host := range strings.Split(match, ",") {
			if host = strings.TrimSpace(host); host != "" {
				cfg.Proxy.Match = append(cfg.Proxy.Match, host)
			}
		}
	}

	if base := os.Getenv("VBNPROXY_BASEURL"); base != "" {
		cfg.Proxy.BaseURL = base
	}

	// Set but empty disables the warm-up request
	if warmup, ok := os.LookupEnv("VBNPROXY_WARMUPURL"); ok {
		cfg.Proxy.WarmupURL = warmup
	}
}
