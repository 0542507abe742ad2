package config

// modelProfiles maps provider -> model -> vector dimension
var modelProfiles = map[string]map[string]int{
	EmbedderOpenAI: {
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	},
	EmbedderOpenAICompatible: {
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		"nomic-embed-code":       3584,
	},
	EmbedderOllama: {
		"nomic-embed-text":  768,
		"nomic-embed-code":  3584,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
	},
	EmbedderGemini: {
		"text-embedding-004":   768,
		"gemini-embedding-001": 3072,
	},
	EmbedderMistral: {
		"codestral-embed-2505": 1536,
	},
}

var defaultModels = map[string]string{
	EmbedderOpenAI:           "text-embedding-3-small",
	EmbedderOpenAICompatible: "text-embedding-3-small",
	EmbedderOllama:           "nomic-embed-text",
	EmbedderGemini:           "gemini-embedding-001",
	EmbedderMistral:          "codestral-embed-2505",
}

// ModelDimension returns the known vector dimension of a model, or 0
func ModelDimension(provider, model string) int {
	return modelProfiles[provider][model]
}

// DefaultModel returns the default model id of a provider
func DefaultModel(provider string) string {
	return defaultModels[provider]
}
