package domain

import "testing"

func TestDefaultLLMSettings(t *testing.T) {
	s := DefaultLLMSettings("sk-test")

	if s.Provider != AIProviderOpenAI {
		t.Errorf("expected openai, got %s", s.Provider)
	}
	if s.Model != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %s", s.Model)
	}
	if s.MaxTokens != 4000 {
		t.Errorf("expected 4000 max tokens, got %d", s.MaxTokens)
	}
	if !s.IsConfigured() {
		t.Error("expected settings with a key to be configured")
	}

	if empty := DefaultLLMSettings(""); empty.IsConfigured() {
		t.Error("expected settings without a key to be unconfigured")
	}
}

func TestParserSettings_IsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		settings ParserSettings
		want     bool
	}{
		{"configured", ParserSettings{Provider: ParserProviderReducto, APIKey: "k"}, true},
		{"no key", ParserSettings{Provider: ParserProviderReducto}, false},
		{"no provider", ParserSettings{APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.IsConfigured(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProviders_IsValid(t *testing.T) {
	if !AIProviderOpenAI.IsValid() || AIProvider("anthropic").IsValid() {
		t.Error("expected only openai to be a valid language-model provider")
	}
	if !ParserProviderReducto.IsValid() || ParserProvider("tika").IsValid() {
		t.Error("expected only reducto to be a valid parser provider")
	}
}
