package domain

import "math"

// Cell is the join of one document and one control. Cells without a stored
// response are synthetic pending cells.
type Cell struct {
	DocumentID       string           `json:"document_id"`
	ControlID        string           `json:"control_id"`
	DocumentFilename string           `json:"document_filename"`
	ControlTitle     string           `json:"control_title"`
	Status           ProcessingStatus `json:"status"`
	ConfidenceScore  *float64         `json:"confidence_score,omitempty"`
	Result           string           `json:"result,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ResponseID       string           `json:"ai_response_id,omitempty"`
	HasResponse      bool             `json:"has_response"`
	IsActionable     bool             `json:"is_actionable"`
}

// NewCell builds the cell for a document/control pair. resp may be nil.
func NewCell(doc *Document, control *Control, resp *AIResponse) Cell {
	cell := Cell{
		DocumentID:       doc.ID,
		ControlID:        control.ID,
		DocumentFilename: doc.OriginalFilename,
		ControlTitle:     control.Title,
		Status:           StatusPending,
	}
	if resp != nil {
		cell.Status = resp.Status
		cell.ConfidenceScore = resp.ConfidenceScore
		cell.Result = resp.ResponseText
		cell.ErrorMessage = resp.ErrorMessage
		cell.ResponseID = resp.ID
		cell.HasResponse = true
	}
	cell.IsActionable = cell.Status == StatusPending || cell.Status == StatusFailed
	return cell
}

// Row is one document with a cell per active control, in control order
type Row struct {
	Document             *Document `json:"document"`
	Cells                []Cell    `json:"cells"`
	CompletionPercentage float64   `json:"completion_percentage"`
}

// Column is one control with its completion across all documents
type Column struct {
	Control              *Control `json:"control"`
	CompletedCount       int      `json:"completed_count"`
	CompletionPercentage float64  `json:"completion_percentage"`
}

// TabularView is the full grid snapshot. It is recomputed on every request.
type TabularView struct {
	Controls                    []*Control  `json:"controls"`
	Documents                   []*Document `json:"documents"`
	Rows                        []Row       `json:"rows"`
	Columns                     []Column    `json:"columns"`
	ProcessingCount             int         `json:"processing_count"`
	TotalCells                  int         `json:"total_cells"`
	OverallCompletionPercentage float64     `json:"overall_completion_percentage"`
}

// ProcessingSummary is the status histogram over stored responses
type ProcessingSummary struct {
	TotalPossible        int                      `json:"total_possible_combinations"`
	TotalProcessed       int                      `json:"total_processed"`
	CurrentlyProcessing  int                      `json:"currently_processing"`
	StatusBreakdown      map[ProcessingStatus]int `json:"status_breakdown"`
	CompletionPercentage float64                  `json:"completion_percentage"`

	// OutsideGrid counts stored responses whose document or active control
	// is gone. They are included in TotalProcessed.
	OutsideGrid int `json:"responses_outside_grid"`

	// RawCompletionPercentage is TotalProcessed/TotalPossible without the
	// cap at 100, and 0 for an empty grid
	RawCompletionPercentage float64 `json:"raw_completion_percentage"`
}

// CompletionPercentage returns the share of completed cells, rounded to one
// decimal. An empty slice is 0.0.
func CompletionPercentage(cells []Cell) float64 {
	if len(cells) == 0 {
		return 0.0
	}
	return Round1(float64(countCompleted(cells)) / float64(len(cells)) * 100)
}

// OverallCompletion weights each row's percentage by its cell count.
// An empty table counts as fully complete.
func OverallCompletion(rows []Row, totalCells int) float64 {
	if totalCells == 0 {
		return 100.0
	}
	var completed float64
	for _, row := range rows {
		completed += row.CompletionPercentage * float64(len(row.Cells)) / 100
	}
	return Round1(completed / float64(totalCells) * 100)
}

// Round1 rounds to one decimal place
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func countCompleted(cells []Cell) int {
	n := 0
	for _, c := range cells {
		if c.Status == StatusCompleted {
			n++
		}
	}
	return n
}
