package domain

import "sync"

// RuntimeConfig tracks which services are available at runtime.
// This is determined at startup and can be updated dynamically for the
// language-model and parser clients.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	StorageBackend string // "minio" or "postgres"

	// Dynamic capability flags (updated when collaborators change)
	llmAvailable    bool
	parserAvailable bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(storageBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		StorageBackend: storageBackend,
	}
}

// LLMAvailable returns whether LLM service is available
func (c *RuntimeConfig) LLMAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.llmAvailable
}

// ParserAvailable returns whether the document parser is available
func (c *RuntimeConfig) ParserAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parserAvailable
}

// SetLLMAvailable updates the LLM availability flag
func (c *RuntimeConfig) SetLLMAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmAvailable = available
}

// SetParserAvailable updates the parser availability flag
func (c *RuntimeConfig) SetParserAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parserAvailable = available
}

// CanEvaluate returns true if cells can be evaluated end to end
func (c *RuntimeConfig) CanEvaluate() bool {
	return c.LLMAvailable()
}

// CanExtract returns true if uploaded documents can be parsed
func (c *RuntimeConfig) CanExtract() bool {
	return c.ParserAvailable()
}
