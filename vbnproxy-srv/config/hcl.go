package config

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
)

type hclFile struct {
	TimeoutSeconds *int        `hcl:"timeout-seconds,optional"`
	LogLevel       *string     `hcl:"log-level,optional"`
	Proxy          *hclProxy   `hcl:"proxy,block"`
	Sources        []hclSource `hcl:"source,block"`
}

type hclProxy struct {
	Match     []string `hcl:"match"`
	BaseURL   *string  `hcl:"base-url,optional"`
	WarmupURL *string  `hcl:"warmup-url,optional"`
}

type hclSource struct {
	Name        string  `hcl:"name,label"`
	URL         string  `hcl:"url"`
	Referer     *string `hcl:"referer,optional"`
	LinkPattern *string `hcl:"link-pattern,optional"`
}

// envFunc exposes env("NAME") inside HCL files. Unset variables are an error.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		name := args[0].AsString()
		val, ok := os.LookupEnv(name)
		if !ok {
			return cty.NilVal, fmt.Errorf("secret %s not set", name)
		}
		return cty.StringVal(val), nil
	},
})

func hclEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": envFunc,
		},
	}
}

func loadHCLConfig(configPath string, cfg *Config) error {
	file, err := openConfigFile(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	src, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read HCL config: %w", err)
	}

	var parsed hclFile
	if err := hclsimple.Decode(configPath, src, hclEvalContext(), &parsed); err != nil {
		return fmt.Errorf("failed to decode HCL config: %w", err)
	}

	if parsed.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *parsed.TimeoutSeconds
	}
	if parsed.LogLevel != nil {
		cfg.LogLevel = *parsed.LogLevel
	}

	if parsed.Proxy != nil {
		cfg.Proxy.Match = parsed.Proxy.Match
		if parsed.Proxy.BaseURL != nil {
			cfg.Proxy.BaseURL = *parsed.Proxy.BaseURL
		}
		if parsed.Proxy.WarmupURL != nil {
			cfg.Proxy.WarmupURL = *parsed.Proxy.WarmupURL
		}
	}

	if len(parsed.Sources) > 0 {
		cfg.Sources = make([]SourceConfig, 0, len(parsed.Sources))
		for _, s := range parsed.Sources {
			src := SourceConfig{Name: s.Name, URL: s.URL}
			if s.Referer != nil {
				src.Referer = *s.Referer
			}
			if s.LinkPattern != nil {
				src.LinkPattern = *s.LinkPattern
			}
			cfg.Sources = append(cfg.Sources, src)
		}
	}

	return nil
}
