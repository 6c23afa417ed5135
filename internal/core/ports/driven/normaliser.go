package driven

// Normaliser cleans text returned by the document parser before it is
// stored and sent to the language model.
type Normaliser interface {
	// Normalise transforms parsed text into normalized text.
	// The mimeType is the type of the uploaded file.
	Normalise(content string, mimeType string) string

	// SupportedTypes returns MIME types this normaliser handles.
	// Can include wildcards like "text/*" or specific types like "text/csv".
	SupportedTypes() []string

	// Priority breaks ties between matching normalisers, higher wins.
	// Format-specific ones use 50, the catch-all uses 1.
	Priority() int
}

// NormaliserRegistry picks the normaliser for a file type
type NormaliserRegistry interface {
	// Get returns the highest-priority normaliser matching mimeType, or nil
	// when none is registered for it.
	Get(mimeType string) Normaliser
}
