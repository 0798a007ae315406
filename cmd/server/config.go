package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/markdown"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type rendererConfig interface {
	engine() (markdown.Engine, error)
}

// BaseRendererConfig contains the common fields for all renderer configurations.
type BaseRendererConfig struct {
	Engine string `yaml:"engine"`
}

type config struct {
	Port              string   `yaml:"port" env:"PORT"`
	BackendURL        string   `yaml:"backendURL" env:"BACKEND_URL"`
	BearerToken       string   `yaml:"bearerToken" env:"BEARER_TOKEN"`
	CredentialCookies []string `yaml:"credentialCookies" env:"CREDENTIAL_COOKIES" envSeparator:","`
	DBPath            string   `yaml:"dbPath" env:"DB_PATH"`

	// SessionTTL is how long an idle session stays in memory.
	SessionTTL time.Duration `yaml:"sessionTTL" env:"SESSION_TTL"`

	Log        logConfig        `yaml:"log" envPrefix:"LOG_"`
	Deployment deploymentConfig `yaml:"deployment" envPrefix:"DEPLOYMENT_"`
	RateLimit  rateLimitConfig  `yaml:"rateLimit" envPrefix:"RATE_LIMIT_"`
	Renderer   rendererConfig   `yaml:"-" env:"-"`
}

type logConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	// File enables rotated file output instead of stderr.
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MAX_BACKUPS"`
}

type deploymentConfig struct {
	Institution         string        `yaml:"institution" env:"INSTITUTION"`
	BotName             string        `yaml:"botName" env:"BOT_NAME"`
	Title               string        `yaml:"title" env:"TITLE"`
	WelcomeText         string        `yaml:"welcomeText" env:"WELCOME_TEXT"`
	LoggedOutText       string        `yaml:"loggedOutText" env:"LOGGED_OUT_TEXT"`
	Placeholder         string        `yaml:"placeholder" env:"PLACEHOLDER"`
	Suggestions         []string      `yaml:"suggestions" env:"SUGGESTIONS" envSeparator:"|"`
	SuggestionSlots     int           `yaml:"suggestionSlots" env:"SUGGESTION_SLOTS"`
	Streaming           bool          `yaml:"streaming" env:"STREAMING"`
	RequireAuth         bool          `yaml:"requireAuth" env:"REQUIRE_AUTH"`
	ChatTimeout         time.Duration `yaml:"chatTimeout" env:"CHAT_TIMEOUT"`
	ThinkingText        string        `yaml:"thinkingText" env:"THINKING_TEXT"`
	ErrorText           string        `yaml:"errorText" env:"ERROR_TEXT"`
	ConnectionErrorText string        `yaml:"connectionErrorText" env:"CONNECTION_ERROR_TEXT"`
}

type rateLimitConfig struct {
	// PerMinute is the number of questions a session may send per minute. Zero disables the limit.
	PerMinute float64 `yaml:"perMinute" env:"PER_MINUTE"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

type subsetRendererConfig struct {
	BaseRendererConfig `yaml:",inline"`
}

type goldmarkRendererConfig struct {
	BaseRendererConfig `yaml:",inline"`
	Style              string `yaml:"style"`
	LineNumbers        bool   `yaml:"lineNumbers"`
}

// plainConfig has the fields of config without its UnmarshalYAML method.
type plainConfig config

const envPrefix = "CHATWIDGET_"

func defaultConfig() config {
	return config{
		Port:       "8080",
		SessionTTL: handlers.DefaultSessionTTL,
		Log: logConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Deployment: deploymentConfig{
			BotName:         "Bot",
			Title:           "Chat",
			WelcomeText:     "Hi! Ask me anything.",
			LoggedOutText:   "Please log in to start chatting.",
			Placeholder:     "Type your question...",
			SuggestionSlots: 3,
			RequireAuth:     true,
		},
		RateLimit: rateLimitConfig{
			PerMinute: 20,
			Burst:     3,
		},
		Renderer: subsetRendererConfig{BaseRendererConfig{Engine: markdown.EngineSubset}},
	}
}

// loadConfig reads the config file at path on top of the defaults, then applies CHATWIDGET_ prefixed
// environment overrides. A missing file is not an error.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		plainConfig `yaml:",inline"`
		Renderer    map[string]any `yaml:"renderer"`
	}
	rawConfig.plainConfig = plainConfig(*c)

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = config(rawConfig.plainConfig)

	if rawConfig.Renderer == nil {
		return nil
	}

	engine, ok := rawConfig.Renderer["engine"].(string)
	if !ok {
		return fmt.Errorf("renderer engine is required")
	}

	rendererRawYAML, err := yaml.Marshal(rawConfig.Renderer)
	if err != nil {
		return err
	}

	switch engine {
	case markdown.EngineSubset:
		rc := subsetRendererConfig{}
		if err := yaml.Unmarshal(rendererRawYAML, &rc); err != nil {
			return err
		}
		c.Renderer = rc
	case markdown.EngineGoldmark:
		rc := goldmarkRendererConfig{}
		if err := yaml.Unmarshal(rendererRawYAML, &rc); err != nil {
			return err
		}
		c.Renderer = rc
	default:
		return fmt.Errorf("unknown renderer engine: %s", engine)
	}

	return nil
}

func (c config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backendURL is required")
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.RateLimit.PerMinute < 0 {
		return fmt.Errorf("rateLimit.perMinute must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("sessionTTL must be positive")
	}
	return nil
}

func (c config) handlersConfig() (handlers.Config, error) {
	engine, err := c.Renderer.engine()
	if err != nil {
		return handlers.Config{}, err
	}

	d := c.Deployment
	return handlers.Config{
		Deployment: handlers.Deployment{
			Institution:   d.Institution,
			BotName:       d.BotName,
			Title:         d.Title,
			WelcomeText:   d.WelcomeText,
			LoggedOutText: d.LoggedOutText,
			Placeholder:   d.Placeholder,
		},
		Widget: widget.Options{
			Streaming:           d.Streaming,
			RequireAuth:         d.RequireAuth,
			ChatTimeout:         d.ChatTimeout,
			SuggestionSlots:     d.SuggestionSlots,
			ThinkingText:        d.ThinkingText,
			ErrorText:           d.ErrorText,
			ConnectionErrorText: d.ConnectionErrorText,
		},
		Suggestions: d.Suggestions,
		Engine:      engine,
		ChatRate:    rate.Limit(c.RateLimit.PerMinute / 60),
		ChatBurst:   c.RateLimit.Burst,
		SessionTTL:  c.SessionTTL,
	}, nil
}

func (l logConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

func (s subsetRendererConfig) engine() (markdown.Engine, error) {
	return markdown.NewEngine(markdown.EngineSubset)
}

func (g goldmarkRendererConfig) engine() (markdown.Engine, error) {
	var opts []markdown.GoldmarkOption
	if g.Style != "" {
		opts = append(opts, markdown.WithStyle(g.Style))
	}
	if g.LineNumbers {
		opts = append(opts, markdown.WithLineNumbers(true))
	}
	return markdown.NewEngine(markdown.EngineGoldmark, opts...)
}
