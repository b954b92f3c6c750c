package services

// LLMParameters are optional sampling parameters shared by the language model adapters. A nil field keeps
// the provider default.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	Stop        []string `yaml:"stop"`
	Seed        *int     `yaml:"seed"`
	MaxTokens   *int     `yaml:"maxTokens"`
}
