package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// enqueueFunc files a request built by the controller.
type enqueueFunc func(kind domain.Kind, projectID, featureID string, priority domain.Priority, source domain.Source) (queue.EnqueueResult, error)

// discovery enqueues units created or modified after its watermark. New
// units go in at HIGH; modified ones at NORMAL when auto-run on change is
// set. The watermark only moves after a tick that filed everything it saw.
type discovery struct {
	store   domain.FeatureStore
	config  workers.ConfigSource
	enqueue enqueueFunc
	logger  *zap.Logger

	mu        sync.Mutex
	watermark time.Time
}

// Watermark returns the time of the newest change already handled.
func (d *discovery) Watermark() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// initWatermark sets the watermark if discovery has never run.
func (d *discovery) initWatermark(t time.Time) {
	d.mu.Lock()
	if d.watermark.IsZero() {
		d.watermark = t
	}
	d.mu.Unlock()
}

func (d *discovery) tick(ctx context.Context) (int, error) {
	since := d.Watermark()
	units, err := d.store.ListChangedSince(ctx, since)
	if err != nil {
		return 0, &domain.StoreUnavailableError{Op: "list changed units", Err: err}
	}

	cfg := d.config.Snapshot()
	next := since
	queued := 0
	for _, u := range units {
		isNew := u.CreatedAt.After(since)
		if !isNew && !u.ModifiedAt.After(since) {
			continue
		}
		if u.ModifiedAt.After(next) {
			next = u.ModifiedAt
		}
		if u.CreatedAt.After(next) {
			next = u.CreatedAt
		}

		priority := domain.PriorityHigh
		if !isNew {
			if !cfg.AutoRunOnFeatureChange {
				continue
			}
			priority = domain.PriorityNormal
		}
		kind := domain.KindFeature
		if u.FeatureID == "" {
			kind = domain.KindProject
		}

		res, err := d.enqueue(kind, u.ProjectID, u.FeatureID, priority, domain.SourceDiscovery)
		if errors.Is(err, domain.ErrValidation) {
			d.logger.Warn("skipping invalid unit from feature store",
				zap.String("project_id", u.ProjectID),
				zap.String("feature_id", u.FeatureID),
				zap.Error(err))
			continue
		}
		if err != nil {
			return queued, fmt.Errorf("enqueue %s %s/%s: %w", kind, u.ProjectID, u.FeatureID, err)
		}
		if res.Outcome == queue.Accepted {
			queued++
		}
	}

	d.mu.Lock()
	d.watermark = next
	d.mu.Unlock()
	return queued, nil
}
