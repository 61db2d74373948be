// Package services holds the concrete collaborators of the assistant: the language model clients
// that stream replies and the BoltDB store that persists sessions.
package services

// LLMParameters holds optional sampling parameters shared by the LLM implementations. Nil fields are
// left to the provider's defaults.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
	MaxTokens        *int     `yaml:"maxTokens"`
}

const errLoggerKey = "err"

func (p LLMParameters) ollamaOptions() map[string]any {
	opts := make(map[string]any)
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.Stop != nil {
		opts["stop"] = p.Stop
	}
	if p.PresencePenalty != nil {
		opts["presence_penalty"] = *p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *p.FrequencyPenalty
	}
	if p.Seed != nil {
		opts["seed"] = *p.Seed
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
