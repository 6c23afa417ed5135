package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally-core/internal/adapters/driven/objectstore"
	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

func TestAnalysisService_Analyze(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)

	var gotSystem, gotUser string
	env.llm.CompleteFn = func(system, user string) (*driven.Completion, error) {
		gotSystem, gotUser = system, user
		return &driven.Completion{
			Text:             "The document clearly states and explicitly mentions MFA.",
			PromptTokens:     40,
			CompletionTokens: 12,
			TotalTokens:      52,
			FinishReason:     "stop",
			Model:            "gpt-4o-mini",
		}, nil
	}

	result, err := svc.Analyze(context.Background(), domain.AnalyzeRequest{
		DocumentContent: "All users enroll in MFA.",
		ControlPrompt:   "Is MFA required?",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 52, result.TokensUsed)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, 0.59, result.ConfidenceScore)
	assert.Empty(t, result.Citations)
	assert.Equal(t, "stop", result.Metadata["finish_reason"])
	assert.Equal(t, 40, result.Metadata["prompt_tokens"])

	assert.Contains(t, gotSystem, "compliance and control requirements")
	assert.Contains(t, gotUser, "Control Requirements:\nIs MFA required?")
	assert.Contains(t, gotUser, "Document Content:\nAll users enroll in MFA.")
}

func TestAnalysisService_Analyze_Errors(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, domain.AnalyzeRequest{DocumentContent: " ", ControlPrompt: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	env.llm.Err = errors.New("rate limited")
	result, err := svc.Analyze(ctx, domain.AnalyzeRequest{DocumentContent: "a", ControlPrompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.Contains(t, result.ErrorMessage, "rate limited")

	env.runtime.SetLLMService(nil)
	_, err = svc.Analyze(ctx, domain.AnalyzeRequest{DocumentContent: "a", ControlPrompt: "b"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestAnalysisService_AnalyzeBatch(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	env.llm.CompleteFn = func(system, user string) (*driven.Completion, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()

		if strings.Contains(user, "boom") {
			return nil, errors.New("boom")
		}
		return &driven.Completion{Text: "ok", TotalTokens: 1}, nil
	}

	reqs := make([]domain.AnalyzeRequest, 12)
	for i := range reqs {
		reqs[i] = domain.AnalyzeRequest{DocumentContent: "content", ControlPrompt: "prompt?"}
	}
	reqs[3].DocumentContent = "boom"
	reqs[7].ControlPrompt = ""

	results, err := svc.AnalyzeBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 12)

	for i, r := range results {
		switch i {
		case 3:
			assert.Equal(t, domain.StatusFailed, r.Status)
			assert.Contains(t, r.ErrorMessage, "boom")
		case 7:
			assert.Equal(t, domain.StatusFailed, r.Status)
			assert.Contains(t, r.ErrorMessage, "control prompt")
		default:
			assert.Equal(t, domain.StatusCompleted, r.Status, "result %d", i)
		}
	}
	assert.LessOrEqual(t, peak, DefaultAnalysisConcurrency)
	assert.Equal(t, 11, env.llm.Calls())

	_, err = svc.AnalyzeBatch(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAnalysisService_EvaluateCell(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	control := env.seedControl(t, "Access", 0)
	doc := env.seedDocument(t, "policy.pdf", 0)
	key := domain.ResponseKey{DocumentID: doc.ID, ControlID: control.ID}

	var prompts []string
	env.llm.CompleteFn = func(system, user string) (*driven.Completion, error) {
		// The cell is visible as processing while the model runs
		stored, err := env.responses.Get(ctx, key)
		require.NoError(t, err)
		prompts = append(prompts, string(stored.Status))
		return &driven.Completion{Text: "It demonstrates quarterly reviews.", TotalTokens: 30, Model: "m"}, nil
	}

	resp, err := svc.EvaluateCell(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "It demonstrates quarterly reviews.", resp.ResponseText)
	require.NotNil(t, resp.ConfidenceScore)
	assert.Equal(t, 30, resp.TokensUsed)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, []string{"processing"}, prompts)
	assert.Equal(t, []string{"response:" + control.ID + ":" + doc.ID}, env.lock.Acquired())
	assert.False(t, env.lock.IsHeld(cellLockName(key)))

	// Completed cells are left alone without force
	again, err := svc.EvaluateCell(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, again.ID)
	assert.Len(t, prompts, 1)

	// Forced regeneration goes through regenerating and keeps the id
	regenerated, err := svc.EvaluateCell(ctx, key, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, regenerated.Status)
	assert.Equal(t, resp.ID, regenerated.ID)
	assert.Equal(t, []string{"processing", "regenerating"}, prompts)

	stored, err := env.responses.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "one response per pair")
}

func TestAnalysisService_EvaluateCell_Failure(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	control := env.seedControl(t, "Access", 0)
	doc := env.seedDocument(t, "policy.pdf", 0)
	key := domain.ResponseKey{DocumentID: doc.ID, ControlID: control.ID}

	env.llm.Err = errors.New("model overloaded")
	resp, err := svc.EvaluateCell(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	assert.Contains(t, resp.ErrorMessage, "model overloaded")

	// failed -> processing is allowed without force
	env.llm.Err = nil
	resp, err = svc.EvaluateCell(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Empty(t, resp.ErrorMessage)
}

func TestAnalysisService_EvaluateCell_Guards(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	control := env.seedControl(t, "Access", 0)
	doc := env.seedDocument(t, "policy.pdf", 0)
	key := domain.ResponseKey{DocumentID: doc.ID, ControlID: control.ID}

	t.Run("missing ids", func(t *testing.T) {
		_, err := svc.EvaluateCell(ctx, domain.ResponseKey{DocumentID: doc.ID}, false)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unknown control", func(t *testing.T) {
		_, err := svc.EvaluateCell(ctx, domain.ResponseKey{DocumentID: doc.ID, ControlID: domain.NewUUID()}, false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("document not extracted", func(t *testing.T) {
		pending := env.seedDocument(t, "raw.pdf", time.Minute)
		pending.ExtractionStatus = domain.ExtractionPending
		require.NoError(t, env.documents.Save(ctx, pending))

		_, err := svc.EvaluateCell(ctx, domain.ResponseKey{DocumentID: pending.ID, ControlID: control.ID}, false)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		env.lock.Hold(cellLockName(key), time.Minute)
		defer func() { _ = env.lock.Release(ctx, cellLockName(key)) }()

		_, err := svc.EvaluateCell(ctx, key, false)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Zero(t, env.llm.Calls())
	})

	t.Run("broken record is replaced", func(t *testing.T) {
		env.objects.PutRaw(objectstore.BucketResponses, doc.ID+"/"+control.ID+".json",
			[]byte(`{"id":"r1","document_id":"`+doc.ID+`","control_id":"`+control.ID+`","status":"bogus"}`))

		resp, err := svc.EvaluateCell(ctx, key, false)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, resp.Status)
	})

	t.Run("no language model", func(t *testing.T) {
		env.runtime.SetLLMService(nil)
		_, err := svc.EvaluateCell(ctx, key, false)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})
}

func TestAnalysisService_EvaluateCell_RecoversInterruptedRun(t *testing.T) {
	tests := []struct {
		name   string
		status domain.ProcessingStatus
		force  bool
	}{
		{"processing", domain.StatusProcessing, false},
		{"processing forced", domain.StatusProcessing, true},
		{"regenerating", domain.StatusRegenerating, false},
		{"regenerating forced", domain.StatusRegenerating, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			svc := env.analysisService(nil)
			ctx := context.Background()

			control := env.seedControl(t, "Access", 0)
			doc := env.seedDocument(t, "policy.pdf", 0)
			seeded := env.seedResponse(t, doc, control, tt.status)

			// The cell lease is free, so nothing is still running this cell
			resp, err := svc.EvaluateCell(ctx, seeded.Key(), tt.force)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, resp.Status)
			assert.Equal(t, seeded.ID, resp.ID)
			assert.Empty(t, resp.ErrorMessage)
			assert.Equal(t, 1, env.llm.Calls())
		})
	}
}

func TestAnalysisService_EvaluateCell_StaleWithoutLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewAnalysisService(AnalysisServiceConfig{
		ControlStore:  env.controls,
		DocumentStore: env.documents,
		ResponseStore: env.responses,
		Services:      env.runtime,
		Logger:        env.logger,
	}).(*analysisService)

	control := env.seedControl(t, "Access", 0)
	doc := env.seedDocument(t, "policy.pdf", 0)
	seeded := env.seedResponse(t, doc, control, domain.StatusRegenerating)

	// Recently touched: another run may still own it
	_, err := svc.EvaluateCell(ctx, seeded.Key(), true)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, env.llm.Calls())

	later := time.Now().Add(DefaultCellLockTTL + time.Minute)
	svc.now = func() time.Time { return later }

	resp, err := svc.EvaluateCell(ctx, seeded.Key(), false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
}

func TestAnalysisService_SchedulePending_StaleActiveCells(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(env.queuedDispatcher())
	ctx := context.Background()

	control := env.seedControl(t, "Access", 0)
	d1 := env.seedDocument(t, "a.pdf", 0)
	d2 := env.seedDocument(t, "b.pdf", time.Minute)
	env.seedResponse(t, d1, control, domain.StatusProcessing)
	env.seedResponse(t, d2, control, domain.StatusRegenerating)

	n, err := svc.SchedulePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh active cells are left to their runs")

	later := time.Now().Add(DefaultCellLockTTL + time.Minute)
	svc.now = func() time.Time { return later }

	n, err = svc.SchedulePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The queued evaluations are not forced; recovery does not need force
	for _, task := range env.queue.Pending() {
		assert.False(t, task.Force())
	}
}

func TestAnalysisService_EvaluateCell_CachesContent(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	doc := env.seedDocument(t, "policy.pdf", 0)
	c1 := env.seedControl(t, "one", 0)
	c2 := env.seedControl(t, "two", time.Minute)

	_, err := svc.EvaluateCell(ctx, domain.ResponseKey{DocumentID: doc.ID, ControlID: c1.ID}, false)
	require.NoError(t, err)

	// Second evaluation reads the cached text, not the rewritten content
	require.NoError(t, env.documents.SaveContent(ctx, &domain.DocumentContent{DocumentID: doc.ID, Text: "changed"}))

	var user string
	env.llm.CompleteFn = func(_, u string) (*driven.Completion, error) {
		user = u
		return &driven.Completion{Text: "ok"}, nil
	}
	_, err = svc.EvaluateCell(ctx, domain.ResponseKey{DocumentID: doc.ID, ControlID: c2.ID}, false)
	require.NoError(t, err)
	assert.Contains(t, user, "Text of policy.pdf")
}

func TestAnalysisService_Regenerate(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(env.queuedDispatcher())
	ctx := context.Background()

	c1 := env.seedControl(t, "one", 0)
	c2 := env.seedControl(t, "two", time.Minute)
	d1 := env.seedDocument(t, "a.pdf", 0)
	d2 := env.seedDocument(t, "b.pdf", time.Minute)
	resp := env.seedResponse(t, d1, c1, domain.StatusCompleted)

	unextracted := env.seedDocument(t, "raw.pdf", 2*time.Minute)
	unextracted.ExtractionStatus = domain.ExtractionFailed
	require.NoError(t, env.documents.Save(ctx, unextracted))

	tests := []struct {
		name      string
		req       domain.RegenerateRequest
		wantScope domain.RegenerateScope
		wantKeys  []domain.ResponseKey
	}{
		{
			name:      "control",
			req:       domain.RegenerateRequest{ControlID: c1.ID},
			wantScope: domain.RegenerateScopeControl,
			wantKeys:  []domain.ResponseKey{{DocumentID: d2.ID, ControlID: c1.ID}, {DocumentID: d1.ID, ControlID: c1.ID}},
		},
		{
			name:      "document",
			req:       domain.RegenerateRequest{DocumentID: d1.ID},
			wantScope: domain.RegenerateScopeDocument,
			wantKeys:  []domain.ResponseKey{{DocumentID: d1.ID, ControlID: c2.ID}, {DocumentID: d1.ID, ControlID: c1.ID}},
		},
		{
			name:      "single response",
			req:       domain.RegenerateRequest{AIResponseID: resp.ID},
			wantScope: domain.RegenerateScopeResponse,
			wantKeys:  []domain.ResponseKey{resp.Key()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.queue.Pending())

			result, err := svc.Regenerate(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScope, result.Scope)
			assert.Equal(t, len(tt.wantKeys), result.Scheduled)

			tasks := env.queue.Pending()[before:]
			var keys []domain.ResponseKey
			for _, task := range tasks {
				assert.Equal(t, domain.TaskTypeEvaluateCell, task.Type)
				assert.True(t, task.Force())
				keys = append(keys, task.ResponseKey())
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}

	_, err := svc.Regenerate(ctx, domain.RegenerateRequest{ControlID: c1.ID, DocumentID: d1.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Regenerate(ctx, domain.RegenerateRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Regenerate(ctx, domain.RegenerateRequest{AIResponseID: domain.NewUUID()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Regenerate(ctx, domain.RegenerateRequest{DocumentID: unextracted.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAnalysisService_Schedule(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(env.queuedDispatcher())
	ctx := context.Background()

	c1 := env.seedControl(t, "one", 0)
	c2 := env.seedControl(t, "two", time.Minute)
	d1 := env.seedDocument(t, "a.pdf", 0)
	d2 := env.seedDocument(t, "b.pdf", time.Minute)
	env.seedResponse(t, d1, c1, domain.StatusCompleted)
	env.seedResponse(t, d1, c2, domain.StatusFailed)
	env.seedResponse(t, d2, c1, domain.StatusProcessing)

	n, err := svc.SchedulePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed d1/c2 and missing d2/c2")

	n, err = svc.ScheduleDocument(ctx, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, env.queue.Pending(), 4)

	noQueue := env.analysisService(nil)
	_, err = noQueue.ScheduleDocument(ctx, d2.ID)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestAnalysisService_ListResponses(t *testing.T) {
	env := newTestEnv(t)
	svc := env.analysisService(nil)
	ctx := context.Background()

	c1 := env.seedControl(t, "one", 0)
	c2 := env.seedControl(t, "two", time.Minute)
	d1 := env.seedDocument(t, "a.pdf", 0)
	r1 := env.seedResponse(t, d1, c1, domain.StatusCompleted)
	env.seedResponse(t, d1, c2, domain.StatusFailed)

	all, err := svc.ListResponses(ctx, driving.ResponseFilter{DocumentID: d1.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := svc.ListResponses(ctx, driving.ResponseFilter{Status: domain.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, r1.ID, completed[0].ID)

	byControl, err := svc.ListResponses(ctx, driving.ResponseFilter{ControlID: c2.ID})
	require.NoError(t, err)
	require.Len(t, byControl, 1)

	_, err = svc.ListResponses(ctx, driving.ResponseFilter{Status: "done"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := svc.GetResponse(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, got.ControlID)
}
