// Package tracker applies crawl status events to the work list.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/worklist"
)

// Event results reported to the Recorder.
const (
	ResultApplied     = "applied"
	ResultUnmatched   = "unmatched"
	ResultInvalid     = "invalid"
	ResultDecodeError = "decode_error"
	ResultStoreError  = "store_error"
)

// Updater rewrites the status of one work list row.
type Updater interface {
	UpdateStatus(ctx context.Context, url string, status listing.Status) (bool, error)
}

// Recorder observes applied events.
type Recorder interface {
	ObserveStatusEvent(status, result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStatusEvent(string, string) {}

// Tracker consumes status events.
type Tracker struct {
	store    Updater
	recorder Recorder
	logger   *zap.Logger
}

// New creates a Tracker writing to store.
func New(store Updater, recorder Recorder, logger *zap.Logger) *Tracker {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, recorder: recorder, logger: logger}
}

// Handle decodes a status message and applies it. Failures are logged and
// counted; the message is never retried.
func (t *Tracker) Handle(ctx context.Context, data []byte) {
	var event listing.StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.logger.Warn("dropping undecodable status event", zap.Error(err), zap.Int("bytes", len(data)))
		t.recorder.ObserveStatusEvent("", ResultDecodeError)
		return
	}
	if err := t.Apply(ctx, event); err != nil {
		t.logger.Error("status event not applied",
			zap.String("url", event.URL),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
	}
}

// Apply updates the work list row matching event.URL. An unmatched URL is
// logged and is not an error.
func (t *Tracker) Apply(ctx context.Context, event listing.StatusEvent) error {
	status := string(event.Status)
	matched, err := t.store.UpdateStatus(ctx, event.URL, event.Status)
	switch {
	case errors.Is(err, worklist.ErrInvalidStatus):
		t.recorder.ObserveStatusEvent(status, ResultInvalid)
		return err
	case err != nil:
		t.recorder.ObserveStatusEvent(status, ResultStoreError)
		return fmt.Errorf("update work list: %w", err)
	case !matched:
		t.recorder.ObserveStatusEvent(status, ResultUnmatched)
		t.logger.Warn("status event for unknown url", zap.String("url", event.URL), zap.String("status", status))
		return nil
	}
	t.recorder.ObserveStatusEvent(status, ResultApplied)
	t.logger.Debug("work list updated", zap.String("url", event.URL), zap.String("status", status))
	return nil
}
