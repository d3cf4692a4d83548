// Package settings loads the mcp-client harness configuration: an optional
// TOML file named by MCP_CLIENT_CONFIG, then MCP_CLIENT_* environment
// overrides.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	mcpclient "github.com/wagiedev/mcp-client-go"
)

// EnvConfigPath names the TOML file to load.
const EnvConfigPath = "MCP_CLIENT_CONFIG"

// Settings tunes the harness. A RequestTimeout of zero disables the per-call
// deadline; a ShutdownGrace of zero uses the library default.
type Settings struct {
	LogLevel       string        `toml:"log_level"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	ShutdownGrace  time.Duration `toml:"shutdown_grace"`
	Stderr         string        `toml:"stderr"`
	Framing        string        `toml:"framing"`
	IDs            string        `toml:"ids"`
	Initialize     bool          `toml:"initialize"`
}

// envOverrides mirrors Settings for envdecode. Empty fields leave the file
// value alone. Durations and booleans stay strings so an explicit zero or
// false still overrides.
type envOverrides struct {
	LogLevel       string `env:"MCP_CLIENT_LOG_LEVEL"`
	RequestTimeout string `env:"MCP_CLIENT_REQUEST_TIMEOUT"`
	ShutdownGrace  string `env:"MCP_CLIENT_SHUTDOWN_GRACE"`
	Stderr         string `env:"MCP_CLIENT_STDERR"`
	Framing        string `env:"MCP_CLIENT_FRAMING"`
	IDs            string `env:"MCP_CLIENT_IDS"`
	Initialize     string `env:"MCP_CLIENT_INITIALIZE"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		LogLevel:       "warn",
		RequestTimeout: 30 * time.Second,
		ShutdownGrace:  5 * time.Second,
		Stderr:         "inherit",
		Framing:        "newline",
		IDs:            "ulid",
	}
}

// Load layers the config file and the environment over Default.
func Load() (Settings, error) {
	s := Default()

	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := toml.DecodeFile(path, &s); err != nil {
			return Settings{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Settings{}, fmt.Errorf("decode environment: %w", err)
	}

	if env.LogLevel != "" {
		s.LogLevel = env.LogLevel
	}

	if err := overrideDuration(&s.RequestTimeout, "MCP_CLIENT_REQUEST_TIMEOUT", env.RequestTimeout); err != nil {
		return Settings{}, err
	}

	if err := overrideDuration(&s.ShutdownGrace, "MCP_CLIENT_SHUTDOWN_GRACE", env.ShutdownGrace); err != nil {
		return Settings{}, err
	}

	if env.Stderr != "" {
		s.Stderr = env.Stderr
	}

	if env.Framing != "" {
		s.Framing = env.Framing
	}

	if env.IDs != "" {
		s.IDs = env.IDs
	}

	if env.Initialize != "" {
		v, err := strconv.ParseBool(env.Initialize)
		if err != nil {
			return Settings{}, fmt.Errorf("MCP_CLIENT_INITIALIZE: %w", err)
		}

		s.Initialize = v
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func overrideDuration(dst *time.Duration, name, value string) error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	*dst = d

	return nil
}

func (s Settings) validate() error {
	if _, err := s.Level(); err != nil {
		return err
	}

	if _, err := s.stderrMode(); err != nil {
		return err
	}

	if _, err := s.framing(); err != nil {
		return err
	}

	if _, err := s.idOption(); err != nil {
		return err
	}

	if s.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}

	if s.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative")
	}

	return nil
}

// Level parses LogLevel.
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}

func (s Settings) stderrMode() (mcpclient.StderrMode, error) {
	switch strings.ToLower(s.Stderr) {
	case "", "inherit":
		return mcpclient.StderrInherit, nil
	case "capture":
		return mcpclient.StderrCapture, nil
	case "discard":
		return mcpclient.StderrDiscard, nil
	default:
		return 0, fmt.Errorf("stderr: unknown mode %q", s.Stderr)
	}
}

func (s Settings) framing() (mcpclient.Framing, error) {
	switch strings.ToLower(s.Framing) {
	case "", "newline":
		return mcpclient.FramingNewline, nil
	case "content-length":
		return mcpclient.FramingContentLength, nil
	default:
		return 0, fmt.Errorf("framing: unknown mode %q", s.Framing)
	}
}

func (s Settings) idOption() (mcpclient.Option, error) {
	switch strings.ToLower(s.IDs) {
	case "", "ulid":
		return func(*mcpclient.Options) {}, nil
	case "uuid":
		return mcpclient.WithUUIDs(), nil
	case "sequential":
		return mcpclient.WithSequentialIDs(), nil
	default:
		return nil, fmt.Errorf("ids: unknown format %q", s.IDs)
	}
}

// Options converts validated settings into client options.
func (s Settings) Options() []mcpclient.Option {
	stderr, _ := s.stderrMode()
	framing, _ := s.framing()
	ids, _ := s.idOption()

	return []mcpclient.Option{
		mcpclient.WithRequestTimeout(s.RequestTimeout),
		mcpclient.WithShutdownGrace(s.ShutdownGrace),
		mcpclient.WithStderr(stderr),
		mcpclient.WithFraming(framing),
		ids,
	}
}
