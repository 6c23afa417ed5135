package domain

// AIProvider identifies the language-model provider
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
)

// ParserProvider identifies the document-parsing provider
type ParserProvider string

const (
	ParserProviderReducto ParserProvider = "reducto"
)

// LLMSettings configures the LLM service
type LLMSettings struct {
	Provider    AIProvider `json:"provider"`
	Model       string     `json:"model"`
	APIKey      string     `json:"-"` // Never serialize to JSON
	BaseURL     string     `json:"base_url,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature"`
}

// DefaultLLMSettings returns the settings used when only an API key is supplied
func DefaultLLMSettings(apiKey string) LLMSettings {
	return LLMSettings{
		Provider:    AIProviderOpenAI,
		Model:       "gpt-4o-mini",
		APIKey:      apiKey,
		MaxTokens:   4000,
		Temperature: 0.1,
	}
}

// IsConfigured returns true if LLM settings are properly configured
func (l *LLMSettings) IsConfigured() bool {
	return l.Provider != "" && l.APIKey != ""
}

// ParserSettings configures the document-parsing service
type ParserSettings struct {
	Provider ParserProvider `json:"provider"`
	APIKey   string         `json:"-"`
	BaseURL  string         `json:"base_url,omitempty"`
}

// IsConfigured returns true if parser settings are properly configured
func (p *ParserSettings) IsConfigured() bool {
	return p.Provider != "" && p.APIKey != ""
}

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	return p == AIProviderOpenAI
}

// IsValid returns true if this is a known provider
func (p ParserProvider) IsValid() bool {
	return p == ParserProviderReducto
}
