package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
	// PageTextTTLSeconds bounds how long cleaned page text is reused
	// between classification and selector discovery for the same URL.
	PageTextTTLSeconds int `yaml:"pageTextTTLSeconds"`
}

type BrowserConfig struct {
	// ControlURL points at a remote devtools endpoint; empty launches a
	// local browser.
	ControlURL    string `yaml:"controlURL"`
	PageTimeoutMs int    `yaml:"pageTimeoutMs"`
	UserAgent     string `yaml:"userAgent"`
	// VisibleTextMaxChars caps cleaned page text handed to the semantic
	// extractor.
	VisibleTextMaxChars int `yaml:"visibleTextMaxChars"`
}

type SelectorConfig struct {
	// Candidate acceptance window: a live match count n is plausible when
	// MinMatches < n <= MaxMatches. A single match is a wrapper, not a
	// repeating card.
	MinMatches      int `yaml:"minMatches"`
	MaxMatches      int `yaml:"maxMatches"`
	CandidateWaitMs int `yaml:"candidateWaitMs"`
	// Heuristic fallback bounds.
	HeuristicMaxIDs        int `yaml:"heuristicMaxIDs"`
	HeuristicMinPrefixHits int `yaml:"heuristicMinPrefixHits"`
	HeuristicMaxMatches    int `yaml:"heuristicMaxMatches"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type WorkerConfig struct {
	// MaxConcurrentSessions bounds simultaneously open browser sessions.
	MaxConcurrentSessions int `yaml:"maxConcurrentSessions"`
	// IntervalMinutes re-runs the batch on a ticker; 0 runs once.
	IntervalMinutes int `yaml:"intervalMinutes"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	TimeoutMs       int             `yaml:"timeoutMs"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// SeedSite is one roster entry ensured at startup.
type SeedSite struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type BootstrapConfig struct {
	Sites []SeedSite `yaml:"sites"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Browser   BrowserConfig   `yaml:"browser"`
	Selector  SelectorConfig  `yaml:"selector"`
	Robots    RobotsConfig    `yaml:"robots"`
	Worker    WorkerConfig    `yaml:"worker"`
	LLM       LLMConfig       `yaml:"llm"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.PageTimeoutMs <= 0 {
		c.Browser.PageTimeoutMs = 20000
	}
	if c.Browser.VisibleTextMaxChars <= 0 {
		c.Browser.VisibleTextMaxChars = 50000
	}
	if c.Selector.MinMatches <= 0 {
		c.Selector.MinMatches = 1
	}
	if c.Selector.MaxMatches <= 0 {
		c.Selector.MaxMatches = 50
	}
	if c.Selector.CandidateWaitMs <= 0 {
		c.Selector.CandidateWaitMs = 5000
	}
	if c.Selector.HeuristicMaxIDs <= 0 {
		c.Selector.HeuristicMaxIDs = 500
	}
	if c.Selector.HeuristicMinPrefixHits <= 0 {
		c.Selector.HeuristicMinPrefixHits = 3
	}
	if c.Selector.HeuristicMaxMatches <= 0 {
		c.Selector.HeuristicMaxMatches = 100
	}
	if c.Worker.MaxConcurrentSessions <= 0 {
		c.Worker.MaxConcurrentSessions = 5
	}
	if c.LLM.TimeoutMs <= 0 {
		c.LLM.TimeoutMs = 30000
	}
	if c.Redis.PageTextTTLSeconds <= 0 {
		c.Redis.PageTextTTLSeconds = 600
	}
}
