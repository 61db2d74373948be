package main

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantErr  bool
		provider string
	}{
		{
			name: "ollama",
			yaml: `
port: "9090"
llm:
  provider: ollama
  model: llama3.2
  host: http://localhost:11434
`,
			provider: "ollama",
		},
		{
			name: "openai with parameters",
			yaml: `
llm:
  provider: openai
  model: gpt-4o-mini
  baseURL: http://localhost:8000/v1
  parameters:
    temperature: 0.2
`,
			provider: "openai",
		},
		{
			name: "anthropic",
			yaml: `
llm:
  provider: anthropic
  model: claude-3-5-haiku-latest
  maxTokens: 2048
`,
			provider: "anthropic",
		},
		{
			name: "openrouter",
			yaml: `
llm:
  provider: openrouter
  model: mistralai/mistral-small
`,
			provider: "openrouter",
		},
		{
			name:    "missing provider",
			yaml:    "llm:\n  model: x\n",
			wantErr: true,
		},
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: bard\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var provider string
			switch l := cfg.LLM.(type) {
			case *ollamaConfig:
				provider = l.Provider
			case *openAIConfig:
				provider = l.Provider
				if l.Parameters.Temperature == nil || *l.Parameters.Temperature != 0.2 {
					t.Errorf("expected temperature 0.2, got %v", l.Parameters.Temperature)
				}
			case *anthropicConfig:
				provider = l.Provider
				if l.MaxTokens != 2048 {
					t.Errorf("expected maxTokens 2048, got %d", l.MaxTokens)
				}
			case *openRouterConfig:
				provider = l.Provider
			}
			if provider != tt.provider {
				t.Errorf("provider = %q, want %q", provider, tt.provider)
			}
		})
	}
}

func TestConfigStreamSection(t *testing.T) {
	var cfg config
	err := yaml.Unmarshal([]byte(`
llm:
  provider: ollama
  model: llama3.2
stream:
  frameInterval: 20ms
  idleTimeout: 4s
  lengthThresholds: [500]
  minStable: 2
  renderGrowth: 10
`), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.applyDefaults()

	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, defaultPort)
	}
	if cfg.SystemPrompt == "" {
		t.Error("expected the default system prompt")
	}

	sc := cfg.Stream.sessionConfig()
	if sc.Detector.IdleTimeout != 4*time.Second {
		t.Errorf("IdleTimeout = %v, want 4s", sc.Detector.IdleTimeout)
	}
	if len(sc.Detector.LengthThresholds) != 1 || sc.Detector.LengthThresholds[0] != 500 {
		t.Errorf("LengthThresholds = %v, want [500]", sc.Detector.LengthThresholds)
	}
	if sc.Detector.MinStable != 2 {
		t.Errorf("MinStable = %d, want 2", sc.Detector.MinStable)
	}

	gc := cfg.Stream.gateConfig()
	if gc.Growth != 10 || gc.MathGrowth != 0 {
		t.Errorf("gateConfig() = %+v", gc)
	}
}

func TestConfigLogHandler(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{level: "", format: ""},
		{level: "debug", format: "json"},
		{level: "loud", format: "text", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		_, err := config{LogLevel: tt.level, LogFormat: tt.format}.logHandler()
		if (err != nil) != tt.wantErr {
			t.Errorf("logHandler(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
	}
}
