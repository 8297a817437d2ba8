package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// Recorder appends the events of one run. A nil *Recorder discards
// everything, and append failures are logged rather than returned so that
// history never fails a run.
type Recorder struct {
	store  Store
	runID  string
	logger *slog.Logger
}

// NewRecorder binds store to runID.
func NewRecorder(store Store, runID string, logger *slog.Logger) *Recorder {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, runID: runID, logger: logger}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

func (r *Recorder) RunStarted(ctx context.Context, ev RunStarted) {
	r.append(ctx, TypeRunStarted, ev, nil)
}

func (r *Recorder) ServiceBuilt(ctx context.Context, service, state string, d time.Duration, command json.Marshaler) {
	r.append(ctx, TypeServiceBuilt, ServiceBuilt{
		Service:    service,
		State:      state,
		DurationMS: durationMS(d),
		Command:    rawCommand(command),
	}, map[string]string{"service": service})
}

func (r *Recorder) ServiceSkipped(ctx context.Context, service, reason string) {
	r.append(ctx, TypeServiceSkipped, ServiceSkipped{Service: service, Reason: reason}, map[string]string{"service": service})
}

func (r *Recorder) ServiceFailed(ctx context.Context, ev ServiceFailed, command json.Marshaler) {
	ev.Command = rawCommand(command)
	r.append(ctx, TypeServiceFailed, ev, map[string]string{"service": ev.Service})
}

func (r *Recorder) BundleFailed(ctx context.Context, bundle string, err error) {
	r.append(ctx, TypeBundleFailed, BundleFailed{Bundle: bundle, Error: err.Error()}, nil)
}

func (r *Recorder) AssetPublished(ctx context.Context, ev AssetPublished) {
	r.append(ctx, TypeAssetPublished, ev, nil)
}

func (r *Recorder) RunCompleted(ctx context.Context, ev RunCompleted) {
	r.append(ctx, TypeRunCompleted, ev, nil)
}

func (r *Recorder) append(ctx context.Context, eventType string, payload any, metadata map[string]string) {
	if r == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("Failed to encode history event", slog.String("event_type", eventType), logfields.Error(err))
		return
	}
	// History is written even when the run itself was cancelled.
	if err := r.store.Append(context.WithoutCancel(ctx), r.runID, eventType, data, metadata); err != nil {
		r.logger.Warn("Failed to record history event",
			logfields.RunID(r.runID),
			slog.String("event_type", eventType),
			logfields.Error(err))
	}
}

func rawCommand(m json.Marshaler) json.RawMessage {
	if m == nil {
		return nil
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return nil
	}
	return data
}
