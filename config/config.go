// Package config holds the gateway's runtime settings, read from flags with
// PRINTMARK_* environment fallbacks.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// EnvPrefix prefixes the environment variable of every flag. The flag
// "storage-root" is read from PRINTMARK_STORAGE_ROOT.
const EnvPrefix = "PRINTMARK_"

// Policy modes.
const (
	PolicyStatic = "static"
	PolicyScript = "script"
)

type Config struct {
	PrinterName string
	PrinterUUID string
	Listen      string
	StorageRoot string
	// Policy selects the label resolver: PolicyStatic or PolicyScript.
	Policy string
	// PolicyScript is a JavaScript file defining get_team_id. Empty
	// selects the bundled script.
	PolicyScript string
	StaticOctet  int
	Downstream   string

	MaxConnections int
	MaxJobSize     int64

	LogLevel  string
	LogFormat string

	WatermarkSize int
	OffsetX       float64
	OffsetY       float64

	KeepRawOnForwardFailure bool
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		PrinterName:    "printmark",
		Listen:         ":631",
		StorageRoot:    "./jobs",
		Policy:         PolicyScript,
		StaticOctet:    2,
		MaxConnections: 64,
		MaxJobSize:     256 << 20,
		LogLevel:       "info",
		LogFormat:      "text",
		WatermarkSize:  595,
		OffsetX:        0,
		OffsetY:        100,
	}
}

// Parse reads args, falling back to getenv for flags not given on the
// command line, and validates the result.
func Parse(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("printmark", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.PrinterName, "printer-name", cfg.PrinterName, "printer name advertised to clients")
	fs.StringVar(&cfg.PrinterUUID, "printer-uuid", cfg.PrinterUUID, "printer UUID advertised to clients (random when empty)")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to accept IPP jobs on")
	fs.StringVar(&cfg.StorageRoot, "storage-root", cfg.StorageRoot, "directory for job files")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "label policy: static or script")
	fs.StringVar(&cfg.PolicyScript, "policy-script", cfg.PolicyScript, "JavaScript file defining get_team_id(addr)")
	fs.IntVar(&cfg.StaticOctet, "static-octet", cfg.StaticOctet, "IPv4 octet index used by the static policy")
	fs.StringVar(&cfg.Downstream, "downstream", cfg.Downstream, "printer URI jobs are forwarded to (ipp, ipps, http or https)")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum concurrent client connections (0 for no limit)")
	fs.Int64Var(&cfg.MaxJobSize, "max-job-size", cfg.MaxJobSize, "maximum accepted job size in bytes")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.IntVar(&cfg.WatermarkSize, "watermark-size", cfg.WatermarkSize, "watermark canvas edge in pixels")
	fs.Float64Var(&cfg.OffsetX, "offset-x", cfg.OffsetX, "watermark x offset in points")
	fs.Float64Var(&cfg.OffsetY, "offset-y", cfg.OffsetY, "watermark y offset in points")
	fs.BoolVar(&cfg.KeepRawOnForwardFailure, "keep-raw-on-forward-failure", cfg.KeepRawOnForwardFailure, "keep the raw job file when forwarding fails")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if getenv != nil {
		if err := applyEnv(fs, getenv); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(fs *flag.FlagSet, getenv func(string) string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		key := EnvVar(f.Name)
		if v := getenv(key); v != "" {
			if err := fs.Set(f.Name, v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	})
	return errors.Join(errs...)
}

// EnvVar returns the environment variable read for flag name.
func EnvVar(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Downstream == "" {
		return errors.New("downstream printer URI is required")
	}
	u, err := url.Parse(c.Downstream)
	if err != nil {
		return fmt.Errorf("downstream: %w", err)
	}
	switch u.Scheme {
	case "ipp", "ipps", "http", "https":
	default:
		return fmt.Errorf("downstream: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("downstream: %q has no host", c.Downstream)
	}
	if c.StorageRoot == "" {
		return errors.New("storage root is required")
	}
	switch c.Policy {
	case PolicyStatic:
		if c.StaticOctet < 0 || c.StaticOctet > 3 {
			return fmt.Errorf("static octet %d out of range 0-3", c.StaticOctet)
		}
	case PolicyScript:
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.PolicyScript != "" && c.Policy != PolicyScript {
		return errors.New("policy script given but policy is not script")
	}
	if c.WatermarkSize <= 0 || c.WatermarkSize > 4096 {
		return fmt.Errorf("watermark size %d out of range 1-4096", c.WatermarkSize)
	}
	if c.MaxConnections < 0 {
		return errors.New("max connections must not be negative")
	}
	if c.MaxJobSize <= 0 {
		return errors.New("max job size must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
