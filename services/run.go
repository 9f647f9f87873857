package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
)

// beginRun opens the ledger row for one driver invocation. The row is
// committed immediately so a crashed run still leaves a trace.
func beginRun(ctx context.Context, store storage.Store, runType string, cfg any) (*models.ScrapeRun, error) {
	var snapshot json.RawMessage
	if cfg != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			snapshot = raw
		}
	}

	run := &models.ScrapeRun{
		RunType:   runType,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Config:    snapshot,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// endRun finalizes the ledger row exactly once. runErr nil means
// success; otherwise the error text is recorded with a failed status.
func endRun(ctx context.Context, store storage.Store, run *models.ScrapeRun, runErr error) {
	now := time.Now().UTC()
	run.EndedAt = &now
	if runErr != nil {
		run.Status = models.RunStatusFailed
		msg := runErr.Error()
		run.ErrorText = &msg
	} else {
		run.Status = models.RunStatusSuccess
	}
	// A failed ledger write must not mask the run's own outcome.
	_ = store.FinishRun(ctx, run)
}
