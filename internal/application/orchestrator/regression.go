package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// regression files a BACKGROUND regression request for every project.
type regression struct {
	store   domain.FeatureStore
	enqueue enqueueFunc
	logger  *zap.Logger
}

func (r *regression) tick(ctx context.Context) (int, error) {
	projects, err := r.store.ListAllProjects(ctx)
	if err != nil {
		return 0, &domain.StoreUnavailableError{Op: "list projects", Err: err}
	}

	queued := 0
	for _, projectID := range projects {
		res, err := r.enqueue(domain.KindRegression, projectID, "", domain.PriorityBackground, domain.SourceRegression)
		if errors.Is(err, domain.ErrValidation) {
			r.logger.Warn("skipping invalid project from feature store",
				zap.String("project_id", projectID),
				zap.Error(err))
			continue
		}
		if err != nil {
			return queued, fmt.Errorf("enqueue regression %s: %w", projectID, err)
		}
		if res.Outcome == queue.Accepted {
			queued++
		}
	}
	return queued, nil
}
