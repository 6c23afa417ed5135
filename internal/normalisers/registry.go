// Package normalisers cleans parsed document text per file type.
package normalisers

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry implements NormaliserRegistry with priority-based selection.
type Registry struct {
	mu          sync.RWMutex
	normalisers []driven.Normaliser
}

// NewRegistry creates a new normaliser registry.
func NewRegistry() *Registry {
	return &Registry{
		normalisers: make([]driven.Normaliser, 0),
	}
}

// Register registers a normaliser.
func (r *Registry) Register(normaliser driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.normalisers = append(r.normalisers, normaliser)
}

// Get returns the highest-priority normaliser matching mimeType, or nil.
// On equal priority the one registered first wins.
func (r *Registry) Get(mimeType string) driven.Normaliser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best driven.Normaliser
	for _, n := range r.normalisers {
		if !matchesMIMEType(n.SupportedTypes(), mimeType) {
			continue
		}
		if best == nil || n.Priority() > best.Priority() {
			best = n
		}
	}
	return best
}

// matchesMIMEType checks if any of the supported types match the given MIME type.
// Supports wildcard matching (e.g., "text/*" matches "text/plain").
func matchesMIMEType(supportedTypes []string, mimeType string) bool {
	mimeType = domain.NormalizeMIME(mimeType)

	for _, supported := range supportedTypes {
		supported = strings.ToLower(strings.TrimSpace(supported))

		switch {
		case supported == mimeType, supported == "*/*":
			return true
		case strings.HasSuffix(supported, "/*"):
			if strings.HasPrefix(mimeType, strings.TrimSuffix(supported, "*")) {
				return true
			}
		}
	}

	return false
}

// DefaultRegistry creates a registry covering every uploadable file type.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(&PlaintextNormaliser{})
	r.Register(&TableNormaliser{})
	r.Register(&JSONNormaliser{})

	return r
}

// PlaintextNormaliser handles prose, including the markdown the parser
// returns for PDFs. It is the fallback for any type.
type PlaintextNormaliser struct{}

func (n *PlaintextNormaliser) Normalise(content string, mimeType string) string {
	return cleanLines(content, false)
}

func (n *PlaintextNormaliser) SupportedTypes() []string {
	return []string{"text/plain", "application/pdf", "*/*"}
}

func (n *PlaintextNormaliser) Priority() int {
	return 1
}

// TableNormaliser handles CSV and spreadsheet output. Rows holding only
// delimiters are dropped.
type TableNormaliser struct{}

func (n *TableNormaliser) Normalise(content string, mimeType string) string {
	return cleanLines(content, true)
}

func (n *TableNormaliser) SupportedTypes() []string {
	return []string{
		"text/csv",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
}

func (n *TableNormaliser) Priority() int {
	return 50
}

// JSONNormaliser re-indents valid JSON so prompts see a stable layout.
// Anything that does not parse is treated as plain text.
type JSONNormaliser struct{}

func (n *JSONNormaliser) Normalise(content string, mimeType string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(content)), "", "  "); err == nil {
		return buf.String()
	}
	return cleanLines(content, false)
}

func (n *JSONNormaliser) SupportedTypes() []string {
	return []string{"application/json"}
}

func (n *JSONNormaliser) Priority() int {
	return 50
}

// cleanLines normalizes line endings, trims trailing whitespace and
// collapses runs of blank lines to one. With dropEmptyRows, lines made only
// of table delimiters are removed.
func cleanLines(content string, dropEmptyRows bool) string {
	content = strings.ReplaceAll(content, "\x00", "")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if dropEmptyRows && line != "" && strings.Trim(line, ",;|\t -:") == "" && !isTableRule(line) {
			continue
		}
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// isTableRule reports whether line is a markdown header separator like |---|---|
func isTableRule(line string) bool {
	return strings.Contains(line, "---") && strings.Contains(line, "|")
}
