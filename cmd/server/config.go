package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/content"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/services"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/stream"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (stream.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port         string       `yaml:"port"`
	LogLevel     string       `yaml:"logLevel"`
	LogFormat    string       `yaml:"logFormat"`
	DBPath       string       `yaml:"dbPath"`
	SystemPrompt string       `yaml:"systemPrompt"`
	LLM          llmConfig    `yaml:"llm"`
	Stream       streamConfig `yaml:"stream"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

// streamConfig tunes the streaming pipeline. Zero values keep the built-in defaults.
type streamConfig struct {
	FrameInterval    time.Duration `yaml:"frameInterval"`
	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	MathExtension    time.Duration `yaml:"mathExtension"`
	LengthThresholds []int         `yaml:"lengthThresholds"`
	LengthExtension  time.Duration `yaml:"lengthExtension"`
	MinStable        int           `yaml:"minStable"`
	MaxTimeout       time.Duration `yaml:"maxTimeout"`
	EvaluateInterval time.Duration `yaml:"evaluateInterval"`
	RenderGrowth     int           `yaml:"renderGrowth"`
	RenderMathGrowth int           `yaml:"renderMathGrowth"`
}

const (
	defaultPort         = "8080"
	defaultSystemPrompt = "You are WaterWatch, an assistant for water-quality monitoring. " +
		"Answer concisely, and write formulas in LaTeX using $...$ for inline math and $$...$$ for display math."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		LogLevel     string         `yaml:"logLevel"`
		LogFormat    string         `yaml:"logFormat"`
		DBPath       string         `yaml:"dbPath"`
		SystemPrompt string         `yaml:"systemPrompt"`
		LLM          map[string]any `yaml:"llm"`
		Stream       streamConfig   `yaml:"stream"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.DBPath = rawConfig.DBPath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Stream = rawConfig.Stream

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return errors.New("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
}

func (c config) logHandler() (slog.Handler, error) {
	var level slog.Level
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	switch c.LogFormat {
	case "", "text":
		return slog.NewTextHandler(os.Stderr, opts), nil
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}

func (s streamConfig) sessionConfig() stream.Config {
	return stream.Config{
		Scheduler: stream.FrameScheduler{Interval: s.FrameInterval},
		Detector: stream.DetectorConfig{
			IdleTimeout:      s.IdleTimeout,
			MathExtension:    s.MathExtension,
			LengthThresholds: s.LengthThresholds,
			LengthExtension:  s.LengthExtension,
			MinStable:        s.MinStable,
			MaxTimeout:       s.MaxTimeout,
			EvaluateInterval: s.EvaluateInterval,
		},
	}
}

func (s streamConfig) gateConfig() content.GateConfig {
	return content.GateConfig{
		Growth:     s.RenderGrowth,
		MathGrowth: s.RenderMathGrowth,
	}
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (stream.LLM, error) {
	if o.Model == "" {
		return nil, errors.New("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.Parameters, logger)
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (stream.LLM, error) {
	if o.Model == "" {
		return nil, errors.New("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (stream.LLM, error) {
	if a.Model == "" {
		return nil, errors.New("model is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens, a.Parameters, logger), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (stream.LLM, error) {
	if o.Model == "" {
		return nil, errors.New("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Model, systemPrompt, o.Parameters, logger), nil
}
