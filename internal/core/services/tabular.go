package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// Ensure tabularService implements TabularService
var _ driving.TabularService = (*tabularService)(nil)

// tabularService joins the three independently stored collections into the grid
type tabularService struct {
	controlStore  driven.ControlStore
	documentStore driven.DocumentStore
	responseStore driven.ResponseStore
	logger        *slog.Logger
}

// NewTabularService creates a new TabularService
func NewTabularService(
	controlStore driven.ControlStore,
	documentStore driven.DocumentStore,
	responseStore driven.ResponseStore,
	logger *slog.Logger,
) driving.TabularService {
	if logger == nil {
		logger = slog.Default()
	}
	return &tabularService{
		controlStore:  controlStore,
		documentStore: documentStore,
		responseStore: responseStore,
		logger:        logger,
	}
}

// BuildView assembles the grid. Control or document listing failures fail
// the request; a response listing failure renders every cell pending.
func (s *tabularService) BuildView(ctx context.Context) (*domain.TabularView, error) {
	controls, err := s.controlStore.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	documents, err := s.documentStore.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	responses := s.responseIndex(ctx)

	view := &domain.TabularView{
		Controls:   controls,
		Documents:  documents,
		Rows:       make([]domain.Row, 0, len(documents)),
		Columns:    make([]domain.Column, len(controls)),
		TotalCells: len(controls) * len(documents),
	}
	for j, control := range controls {
		view.Columns[j].Control = control
	}

	for _, doc := range documents {
		cells := make([]domain.Cell, 0, len(controls))
		for j, control := range controls {
			resp := responses[domain.ResponseKey{DocumentID: doc.ID, ControlID: control.ID}]
			cell := domain.NewCell(doc, control, resp)
			if cell.Status.IsActive() {
				view.ProcessingCount++
			}
			if cell.Status == domain.StatusCompleted {
				view.Columns[j].CompletedCount++
			}
			cells = append(cells, cell)
		}
		view.Rows = append(view.Rows, domain.Row{
			Document:             doc,
			Cells:                cells,
			CompletionPercentage: domain.CompletionPercentage(cells),
		})
	}

	for j := range view.Columns {
		if len(documents) > 0 {
			view.Columns[j].CompletionPercentage = domain.Round1(
				float64(view.Columns[j].CompletedCount) / float64(len(documents)) * 100,
			)
		}
	}

	view.OverallCompletionPercentage = domain.OverallCompletion(view.Rows, view.TotalCells)
	return view, nil
}

// responseIndex maps every stored response by its pair. Records missing an
// id are skipped. On duplicate keys the last one read wins.
func (s *tabularService) responseIndex(ctx context.Context) map[domain.ResponseKey]*domain.AIResponse {
	responses, err := s.responseStore.List(ctx)
	if err != nil {
		s.logger.Error("failed to list responses, rendering cells as pending", "error", err)
		return map[domain.ResponseKey]*domain.AIResponse{}
	}

	index := make(map[domain.ResponseKey]*domain.AIResponse, len(responses))
	for _, resp := range responses {
		key := resp.Key()
		if key.IsZero() {
			s.logger.Warn("skipping response without document or control id", "response_id", resp.ID)
			continue
		}
		if prev, ok := index[key]; ok {
			s.logger.Warn("duplicate responses for cell",
				"error", domain.ErrStorageInconsistency,
				"document_id", key.DocumentID,
				"control_id", key.ControlID,
				"kept", resp.ID,
				"dropped", prev.ID,
			)
		}
		index[key] = resp
	}
	return index
}

// ProcessingSummary counts stored responses per status
func (s *tabularService) ProcessingSummary(ctx context.Context) (*domain.ProcessingSummary, error) {
	controls, err := s.controlStore.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	documents, err := s.documentStore.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	responses, err := s.responseStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	summary := &domain.ProcessingSummary{
		TotalPossible:   len(controls) * len(documents),
		TotalProcessed:  len(responses),
		StatusBreakdown: make(map[domain.ProcessingStatus]int, len(domain.AllProcessingStatuses)),
	}
	for _, status := range domain.AllProcessingStatuses {
		summary.StatusBreakdown[status] = 0
	}
	inGrid := make(map[domain.ResponseKey]bool, summary.TotalPossible)
	for _, doc := range documents {
		for _, c := range controls {
			inGrid[domain.ResponseKey{DocumentID: doc.ID, ControlID: c.ID}] = true
		}
	}
	for _, resp := range responses {
		// Fixed keys only
		if _, ok := summary.StatusBreakdown[resp.Status]; ok {
			summary.StatusBreakdown[resp.Status]++
		}
		if !inGrid[resp.Key()] {
			summary.OutsideGrid++
		}
	}
	summary.CurrentlyProcessing = summary.StatusBreakdown[domain.StatusPending] +
		summary.StatusBreakdown[domain.StatusProcessing] +
		summary.StatusBreakdown[domain.StatusRegenerating]

	if summary.TotalPossible == 0 {
		summary.CompletionPercentage = 100.0
	} else {
		pct := float64(summary.TotalProcessed) / float64(summary.TotalPossible) * 100
		summary.RawCompletionPercentage = domain.Round1(pct)
		summary.CompletionPercentage = domain.Round1(math.Min(100, pct))
	}
	return summary, nil
}
