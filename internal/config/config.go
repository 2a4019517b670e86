// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package config loads commitver.yaml, applies COMMITVER_* environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bartekus/commitver/internal/classifier"
	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/projectroot"
	"github.com/bartekus/commitver/internal/source"
	"github.com/bartekus/commitver/internal/version"
)

// EnvPrefix prefixes every environment override, e.g. COMMITVER_HOST_TOKEN.
const EnvPrefix = "COMMITVER"

// DefaultMarkerPattern extracts "major: N" or "major=N" from the marker file.
const DefaultMarkerPattern = `(?mi)^\s*major\s*[:=]\s*(\d+)`

// Config is the full commitver configuration.
type Config struct {
	LedgerDir   string           `mapstructure:"ledger_dir" yaml:"ledger_dir" validate:"required"`
	StateDir    string           `mapstructure:"state_dir" yaml:"state_dir" validate:"required"`
	Concurrency int              `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1,max=64"`
	Lookback    time.Duration    `mapstructure:"lookback" yaml:"lookback" validate:"gt=0"`
	Host        HostConfig       `mapstructure:"host" yaml:"host"`
	Classifier  ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Replay      ReplayConfig     `mapstructure:"replay" yaml:"replay"`
	Repos       []RepoConfig     `mapstructure:"repos" yaml:"repos" validate:"dive"`

	// Path is the file the config was read from, empty for defaults only.
	Path string `mapstructure:"-" yaml:"-"`
}

// HostConfig configures the source-control host adapter.
type HostConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Token          string        `mapstructure:"token" yaml:"token,omitempty"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gt=0"`
	Burst          int           `mapstructure:"burst" yaml:"burst" validate:"min=1"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	PageSize       int           `mapstructure:"page_size" yaml:"page_size" validate:"min=1,max=100"`
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages" validate:"min=1"`
	MaxReplayPages int           `mapstructure:"max_replay_pages" yaml:"max_replay_pages" validate:"min=1"`
	MaxDiffBytes   int64         `mapstructure:"max_diff_bytes" yaml:"max_diff_bytes" validate:"min=1"`
}

// ClassifierConfig configures the model fallback.
type ClassifierConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model           string        `mapstructure:"model" yaml:"model" validate:"required_if=Enabled true"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxPromptChars  int           `mapstructure:"max_prompt_chars" yaml:"max_prompt_chars" validate:"min=256"`
	MaxDiffChars    int           `mapstructure:"max_diff_chars" yaml:"max_diff_chars" validate:"min=0"`
	MinConfidence   float64       `mapstructure:"min_confidence" yaml:"min_confidence" validate:"min=0,max=1"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	StoredDiffChars int           `mapstructure:"stored_diff_chars" yaml:"stored_diff_chars" validate:"min=0"`
}

// ReplayConfig configures full rebuilds.
type ReplayConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"min=1"`
}

// RepoConfig is one tracked repository.
type RepoConfig struct {
	Name           string `mapstructure:"name" yaml:"name" validate:"required,repo"`
	Branch         string `mapstructure:"branch" yaml:"branch,omitempty"`
	MarkerPath     string `mapstructure:"marker_path" yaml:"marker_path,omitempty"`
	MarkerPattern  string `mapstructure:"marker_pattern" yaml:"marker_pattern,omitempty" validate:"omitempty,regexp"`
	InitialVersion string `mapstructure:"initial_version" yaml:"initial_version,omitempty" validate:"omitempty,version"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LedgerDir:   ".commitver/ledger",
		StateDir:    ".commitver/run",
		Concurrency: 4,
		Lookback:    168 * time.Hour,
		Host: HostConfig{
			BaseURL:        "https://api.github.com",
			RatePerSecond:  5,
			Burst:          10,
			Timeout:        30 * time.Second,
			PageSize:       100,
			MaxPages:       20,
			MaxReplayPages: 500,
			MaxDiffBytes:   1 << 20,
		},
		Classifier: ClassifierConfig{
			Model:           "gpt-4o-mini",
			Timeout:         20 * time.Second,
			MaxPromptChars:  24000,
			MaxDiffChars:    12000,
			CacheTTL:        time.Hour,
			MaxRetries:      2,
			StoredDiffChars: 8000,
		},
		Replay: ReplayConfig{ChunkSize: 200},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("repo", func(fl validator.FieldLevel) bool {
		_, err := source.ParseRepo(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		re, err := regexp.Compile(fl.Field().String())
		return err == nil && re.NumSubexp() >= 1
	})
	_ = v.RegisterValidation("version", func(fl validator.FieldLevel) bool {
		return versionPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

var versionPattern = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

// Validate checks every field constraint and that repository names are
// unique.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Repos))
	for _, r := range c.Repos {
		if seen[r.Name] {
			return fmt.Errorf("invalid config: repository %s listed twice", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// Load reads configuration. With an explicit path that file must exist;
// otherwise commitver.yaml is searched for upwards from the working
// directory and defaults are used when none is found. Relative directories
// are resolved against the config file's directory.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		found, err := projectroot.FindConfig(".")
		switch {
		case err == nil:
			path = found
		case !errors.Is(err, projectroot.ErrNotFound):
			return Config{}, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Path = path
	if path != "" {
		dir := filepath.Dir(path)
		cfg.LedgerDir = resolve(dir, cfg.LedgerDir)
		cfg.StateDir = resolve(dir, cfg.StateDir)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// setDefaults registers every scalar key so that environment overrides
// apply even when the file omits the key.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ledger_dir", d.LedgerDir)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("lookback", d.Lookback)

	v.SetDefault("host.base_url", d.Host.BaseURL)
	v.SetDefault("host.token", d.Host.Token)
	v.SetDefault("host.rate_per_second", d.Host.RatePerSecond)
	v.SetDefault("host.burst", d.Host.Burst)
	v.SetDefault("host.timeout", d.Host.Timeout)
	v.SetDefault("host.page_size", d.Host.PageSize)
	v.SetDefault("host.max_pages", d.Host.MaxPages)
	v.SetDefault("host.max_replay_pages", d.Host.MaxReplayPages)
	v.SetDefault("host.max_diff_bytes", d.Host.MaxDiffBytes)

	v.SetDefault("classifier.enabled", d.Classifier.Enabled)
	v.SetDefault("classifier.base_url", d.Classifier.BaseURL)
	v.SetDefault("classifier.api_key", d.Classifier.APIKey)
	v.SetDefault("classifier.model", d.Classifier.Model)
	v.SetDefault("classifier.timeout", d.Classifier.Timeout)
	v.SetDefault("classifier.max_prompt_chars", d.Classifier.MaxPromptChars)
	v.SetDefault("classifier.max_diff_chars", d.Classifier.MaxDiffChars)
	v.SetDefault("classifier.min_confidence", d.Classifier.MinConfidence)
	v.SetDefault("classifier.cache_ttl", d.Classifier.CacheTTL)
	v.SetDefault("classifier.max_retries", d.Classifier.MaxRetries)
	v.SetDefault("classifier.stored_diff_chars", d.Classifier.StoredDiffChars)

	v.SetDefault("replay.chunk_size", d.Replay.ChunkSize)
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration, with one example
// repository, to path. An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := Default()
	cfg.Repos = []RepoConfig{{
		Name:           "owner/name",
		Branch:         "main",
		MarkerPath:     ".version",
		MarkerPattern:  DefaultMarkerPattern,
		InitialVersion: "0.0",
	}}
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	header := "# commitver configuration. Every key can be overridden with COMMITVER_<KEY>,\n" +
		"# nested keys joined by underscores, e.g. COMMITVER_HOST_TOKEN.\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// SourceOptions maps the host section onto the adapter options.
func (c Config) SourceOptions() source.Options {
	return source.Options{
		BaseURL:        c.Host.BaseURL,
		Token:          c.Host.Token,
		RatePerSecond:  c.Host.RatePerSecond,
		Burst:          c.Host.Burst,
		Timeout:        c.Host.Timeout,
		PageSize:       c.Host.PageSize,
		MaxPages:       c.Host.MaxPages,
		MaxReplayPages: c.Host.MaxReplayPages,
		MaxDiffBytes:   c.Host.MaxDiffBytes,
	}
}

// ClassifierOptions maps the classifier section onto classifier options.
func (c Config) ClassifierOptions() classifier.Options {
	o := classifier.DefaultOptions()
	o.Timeout = c.Classifier.Timeout
	o.MaxPromptChars = c.Classifier.MaxPromptChars
	o.MaxDiffChars = c.Classifier.MaxDiffChars
	o.MinConfidence = c.Classifier.MinConfidence
	o.CacheTTL = c.Classifier.CacheTTL
	o.MaxRetries = c.Classifier.MaxRetries
	return o
}

// Backend returns the classifier backend, or nil when it is disabled.
func (c Config) Backend() (classifier.Backend, error) {
	if !c.Classifier.Enabled {
		return nil, nil
	}
	return classifier.NewOpenAIBackend(classifier.OpenAIConfig{
		BaseURL: c.Classifier.BaseURL,
		APIKey:  c.Classifier.APIKey,
		Model:   c.Classifier.Model,
	})
}

// Target converts a repository entry into an engine target.
func (r RepoConfig) Target() (engine.Target, error) {
	repo, err := source.ParseRepo(r.Name)
	if err != nil {
		return engine.Target{}, err
	}
	t := engine.Target{
		Repo:           repo,
		Branch:         r.Branch,
		InitialVersion: version.Parse(r.InitialVersion),
	}
	if t.Branch == "" {
		t.Branch = "main"
	}

	path := r.MarkerPath
	if path == "" {
		path = ".version"
	}
	pattern := r.MarkerPattern
	if pattern == "" {
		pattern = DefaultMarkerPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return engine.Target{}, fmt.Errorf("repository %s: marker pattern: %w", r.Name, err)
	}
	t.Marker = source.Marker{Path: path, Pattern: re}
	return t, nil
}

// Targets resolves the named repositories, or every configured one when
// names is empty. A name not present in the config is still accepted with
// default settings.
func (c Config) Targets(names []string) ([]engine.Target, error) {
	byName := make(map[string]RepoConfig, len(c.Repos))
	for _, r := range c.Repos {
		byName[r.Name] = r
	}

	var selected []RepoConfig
	if len(names) == 0 {
		selected = c.Repos
	} else {
		for _, n := range names {
			r, ok := byName[n]
			if !ok {
				r = RepoConfig{Name: n}
			}
			selected = append(selected, r)
		}
	}

	out := make([]engine.Target, 0, len(selected))
	for _, r := range selected {
		t, err := r.Target()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
