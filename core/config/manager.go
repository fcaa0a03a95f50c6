package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	everr "github.com/adalundhe/aligneval/core/errors"
	"github.com/adalundhe/aligneval/core/similarity"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "ALIGNEVAL_"

type Manager struct {
	current atomic.Pointer[Config]
}

type Config struct {
	Evaluation EvaluationConfig `yaml:"evaluation"`
	CSLS       CSLSConfig       `yaml:"csls"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type EvaluationConfig struct {
	TopK    []int         `yaml:"top_k"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

type CSLSConfig struct {
	K int `yaml:"k"`
}

type ScorerConfig struct {
	Kind    string  `yaml:"kind"`
	Epsilon float64 `yaml:"epsilon"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Evaluation: EvaluationConfig{
			TopK:    []int{1, 5, 10, 50},
			Workers: 0,
			Timeout: 0,
		},
		CSLS: CSLSConfig{
			K: 10,
		},
		Scorer: ScorerConfig{
			Kind:    similarity.KindHyperbolic,
			Epsilon: similarity.DefaultEpsilon,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load builds a config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and the environment, then
// validates it.
func (m *Manager) Load(path string) error {
	cfg := DefaultConfig()

	if err := loadYAMLFile(path, cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := applyEnvironment(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	return nil
}

func loadYAMLFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "TOP_K"); v != "" {
		topK, err := ParseTopK(v)
		if err != nil {
			return envError("TOP_K", err)
		}
		cfg.Evaluation.TopK = topK
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("WORKERS", err)
		}
		cfg.Evaluation.Workers = n
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("TIMEOUT", err)
		}
		cfg.Evaluation.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "CSLS_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("CSLS_K", err)
		}
		cfg.CSLS.K = n
	}
	if v := os.Getenv(EnvPrefix + "SCORER"); v != "" {
		cfg.Scorer.Kind = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func envError(name string, err error) error {
	return everr.New(everr.KindInvalidInput, "environment variable "+EnvPrefix+name, err)
}

// ParseTopK parses a comma-separated threshold list such as "1,5,10".
func ParseTopK(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		k, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Validate rejects configurations that cannot produce metrics.
func (c *Config) Validate() error {
	if len(c.Evaluation.TopK) == 0 {
		return everr.Newf(everr.KindDegenerateConfig, "evaluation.top_k is empty")
	}
	for _, k := range c.Evaluation.TopK {
		if k <= 0 {
			return everr.Newf(everr.KindDegenerateConfig, "evaluation.top_k must be positive, got %v", c.Evaluation.TopK)
		}
	}
	if c.Evaluation.Workers < 0 {
		return everr.Newf(everr.KindDegenerateConfig, "evaluation.workers must not be negative, got %d", c.Evaluation.Workers)
	}
	if c.Evaluation.Timeout < 0 {
		return everr.Newf(everr.KindDegenerateConfig, "evaluation.timeout must not be negative, got %s", c.Evaluation.Timeout)
	}
	if c.CSLS.K < 0 {
		return everr.Newf(everr.KindDegenerateConfig, "csls.k must not be negative, got %d", c.CSLS.K)
	}
	if _, err := similarity.New(c.Scorer.Kind, c.Scorer.Epsilon); err != nil {
		return err
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ResolvedWorkers returns the configured worker count, or GOMAXPROCS when
// it is zero.
func (c *Config) ResolvedWorkers() int {
	if c.Evaluation.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Evaluation.Workers
}

func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, everr.New(everr.KindInvalidInput, "logging.level", err)
	}
	return level, nil
}
