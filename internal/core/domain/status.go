package domain

// ProcessingStatus is the lifecycle state of an AI response for one
// (document, control) pair.
type ProcessingStatus string

const (
	StatusPending      ProcessingStatus = "pending"
	StatusProcessing   ProcessingStatus = "processing"
	StatusCompleted    ProcessingStatus = "completed"
	StatusFailed       ProcessingStatus = "failed"
	StatusRegenerating ProcessingStatus = "regenerating"
)

// AllProcessingStatuses lists every status in declaration order.
var AllProcessingStatuses = []ProcessingStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusRegenerating,
}

// allowedTransitions is the legal transition table.
var allowedTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:      {StatusProcessing, StatusFailed},
	StatusProcessing:   {StatusCompleted, StatusFailed, StatusRegenerating},
	StatusCompleted:    {StatusRegenerating},
	StatusFailed:       {StatusProcessing, StatusRegenerating},
	StatusRegenerating: {StatusCompleted, StatusFailed},
}

// IsValid returns true for the five known statuses
func (s ProcessingStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal returns true when processing finished for this cycle (success or failure)
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true while a generation is running
func (s ProcessingStatus) IsActive() bool {
	return s == StatusProcessing || s == StatusRegenerating
}

// CanTransitionTo reports whether s -> next is allowed
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates s -> next and returns next, or a *TransitionError.
func (s ProcessingStatus) Transition(next ProcessingStatus) (ProcessingStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, &TransitionError{From: s, To: next}
	}
	return next, nil
}

// ExtractionStatus is the state of text extraction for an uploaded document.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// IsReadyForAnalysis returns true once extracted text is available
func (s ExtractionStatus) IsReadyForAnalysis() bool {
	return s == ExtractionCompleted
}

// CanStartExtraction returns true when an extraction run may begin
func (s ExtractionStatus) CanStartExtraction() bool {
	return s == ExtractionPending || s == ExtractionFailed
}
