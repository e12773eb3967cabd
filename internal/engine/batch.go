package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// BatchReport counts the outcome of StoreChat.
type BatchReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Notice summarises the report for the user.
func (r BatchReport) Notice() Notice {
	noun := "memories"
	if r.Processed == 1 {
		noun = "memory"
	}
	if r.Failed > 0 {
		return Notice{Level: LevelWarning, Message: fmt.Sprintf("Stored %d %s, %d failed.", r.Processed, noun, r.Failed)}
	}
	return Successf("Stored %d %s.", r.Processed, noun)
}

// StoreChat runs the write path over every eligible turn of chat, oldest
// first. Turns whose role is disabled for summarization or that are too short
// are skipped. A failing turn is counted and the loop moves on; there is no
// retry. Successive turns are paced by the batch delay. The single-flight
// flag is held for the whole batch.
//
// The returned error is non-nil only when the batch could not run at all or
// ctx was cancelled; the report then covers the turns handled so far.
func (e *Engine) StoreChat(ctx context.Context, ec EntityContext, chat []ChatTurn) (BatchReport, error) {
	var report BatchReport
	if ec.EntityID == "" {
		return report, ErrNoEntity
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Info("write already in progress, refusing batch", "entity", ec.EntityID)
		return report, ErrWriteInFlight
	}
	defer e.inFlight.Store(false)

	s := e.settings.Settings()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.BatchDelay), 1)
	}

	for i, turn := range chat {
		if !eligible(s, turn) {
			report.Skipped++
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			e.logger.Warn("batch store interrupted", "entity", ec.EntityID, "error", err, "processed", report.Processed)
			return report, err
		}

		item := ec
		item.History = chat[:i]
		if _, err := e.process(ctx, s, turn.Text, turn.Role, item); err != nil {
			report.Failed++
			e.logger.Warn("failed to store chat turn", "entity", ec.EntityID, "index", i, "error", err)
			continue
		}
		report.Processed++
	}

	e.logger.Info("batch store finished", "entity", ec.EntityID,
		"processed", report.Processed, "failed", report.Failed, "skipped", report.Skipped)
	e.publish(EventBatchCompleted, ec.EntityID, "", report.Processed)
	return report, nil
}

func eligible(s config.Settings, turn ChatTurn) bool {
	switch turn.Role {
	case types.RoleUser:
		if !s.SummarizeUser {
			return false
		}
	case types.RoleAssistant:
		if !s.SummarizeBot {
			return false
		}
	default:
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(turn.Text)) >= s.MinLength
}
