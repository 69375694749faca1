// Package config loads diagtrace settings from an optional YAML file and
// DIAG_* environment variables. Environment values win over the file, the
// file wins over the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/correlate"
	"github.com/WessleyAI/diagtrace/engine/normalize"
	"github.com/WessleyAI/diagtrace/engine/reftable"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvFile names the variable that points at the YAML file when no path is
// given explicitly.
const EnvFile = "DIAG_CONFIG"

type Engine struct {
	LineWindow   int           `yaml:"line_window"`
	TimeWindow   time.Duration `yaml:"time_window"`
	ExcerptLimit int           `yaml:"excerpt_limit"`
	VoltageLow   float64       `yaml:"voltage_low"`
	VoltageHigh  float64       `yaml:"voltage_high"`
	// Edges are "from->to" category pairs. Empty keeps the built-in graph.
	Edges   []string `yaml:"edges"`
	Workers int      `yaml:"workers"`
}

type Tables struct {
	Path string `yaml:"path"`
}

type History struct {
	Path string `yaml:"path"`
}

type Neo4j struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type Qdrant struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

type NATS struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type LLM struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

type API struct {
	Port         string `yaml:"port"`
	CORSOrigin   string `yaml:"cors_origin"`
	CacheSize    int    `yaml:"cache_size"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full settings tree.
type Config struct {
	Engine  Engine  `yaml:"engine"`
	Tables  Tables  `yaml:"tables"`
	History History `yaml:"history"`
	Neo4j   Neo4j   `yaml:"neo4j"`
	Qdrant  Qdrant  `yaml:"qdrant"`
	NATS    NATS    `yaml:"nats"`
	LLM     LLM     `yaml:"llm"`
	API     API     `yaml:"api"`
	Log     Log     `yaml:"log"`
}

// Default returns the built-in settings. External services stay disabled
// until an address is configured.
func Default() Config {
	return Config{
		Engine: Engine{
			LineWindow:   30,
			TimeWindow:   10 * time.Second,
			ExcerptLimit: 200,
			VoltageLow:   12.0,
			VoltageHigh:  15.0,
		},
		Neo4j:  Neo4j{User: "neo4j", Database: "neo4j"},
		Qdrant: Qdrant{Collection: "diag_sessions"},
		NATS:   NATS{Queue: "diag-workers"},
		LLM:    LLM{Model: "gpt-4o-mini", RatePerSecond: 1, Timeout: 30 * time.Second},
		API:    API{Port: "8080", CORSOrigin: "*", CacheSize: 256, MaxBodyBytes: 16 << 20},
		Log:    Log{Level: "info"},
	}
}

// Load reads path (or $DIAG_CONFIG when path is empty) over the defaults and
// then applies environment overrides. A missing file is only an error when a
// path was given.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("config: %s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				err = fmt.Errorf("config: %s: %w", key, perr)
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("config: %s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	num("DIAG_LINE_WINDOW", &c.Engine.LineWindow)
	dur("DIAG_TIME_WINDOW", &c.Engine.TimeWindow)
	num("DIAG_EXCERPT_LIMIT", &c.Engine.ExcerptLimit)
	float("DIAG_VOLTAGE_LOW", &c.Engine.VoltageLow)
	float("DIAG_VOLTAGE_HIGH", &c.Engine.VoltageHigh)
	num("DIAG_WORKERS", &c.Engine.Workers)
	if v, ok := lookup("DIAG_EDGES"); ok && v != "" {
		c.Engine.Edges = splitList(v)
	}

	str("DIAG_TABLES", &c.Tables.Path)
	str("DIAG_HISTORY_DB", &c.History.Path)

	str("NEO4J_URL", &c.Neo4j.URL)
	str("NEO4J_USER", &c.Neo4j.User)
	str("NEO4J_PASS", &c.Neo4j.Password)
	str("DIAG_NEO4J_DATABASE", &c.Neo4j.Database)

	str("QDRANT_URL", &c.Qdrant.Addr)
	str("DIAG_QDRANT_COLLECTION", &c.Qdrant.Collection)

	str("NATS_URL", &c.NATS.URL)
	str("DIAG_NATS_QUEUE", &c.NATS.Queue)

	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("DIAG_LLM_BASE_URL", &c.LLM.BaseURL)
	str("DIAG_LLM_MODEL", &c.LLM.Model)
	float("DIAG_LLM_RATE", &c.LLM.RatePerSecond)
	dur("DIAG_LLM_TIMEOUT", &c.LLM.Timeout)

	str("PORT", &c.API.Port)
	str("DIAG_CORS_ORIGIN", &c.API.CORSOrigin)
	num("DIAG_CACHE_SIZE", &c.API.CacheSize)

	str("LOG_LEVEL", &c.Log.Level)
	str("DIAG_LOG_FORMAT", &c.Log.Format)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	if e.LineWindow < 0 || e.TimeWindow < 0 {
		return fmt.Errorf("config: engine windows must not be negative")
	}
	if e.ExcerptLimit < 0 {
		return fmt.Errorf("config: engine.excerpt_limit must not be negative")
	}
	if e.VoltageLow > e.VoltageHigh {
		return fmt.Errorf("config: engine.voltage_low %.1f above voltage_high %.1f", e.VoltageLow, e.VoltageHigh)
	}
	if _, err := correlate.ParseEdges(e.Edges); err != nil {
		return fmt.Errorf("config: engine.edges: %w", err)
	}
	return nil
}

// AnalyzerOptions turns the engine and tables sections into analyzer
// options. Logger, Baseline and Observer are left for the caller.
func (c *Config) AnalyzerOptions() (analyze.Options, error) {
	opts := analyze.Options{
		Window:       correlate.Window{Lines: c.Engine.LineWindow, Duration: c.Engine.TimeWindow},
		Normalize:    normalize.Options{VoltageLow: c.Engine.VoltageLow, VoltageHigh: c.Engine.VoltageHigh},
		ExcerptLimit: c.Engine.ExcerptLimit,
	}
	if len(c.Engine.Edges) > 0 {
		edges, err := correlate.ParseEdges(c.Engine.Edges)
		if err != nil {
			return analyze.Options{}, fmt.Errorf("config: engine.edges: %w", err)
		}
		opts.Edges = edges
	}
	if c.Tables.Path != "" {
		t, err := reftable.Load(c.Tables.Path)
		if err != nil {
			return analyze.Options{}, fmt.Errorf("config: tables: %w", err)
		}
		opts.Tables = t
	}
	return opts, nil
}
