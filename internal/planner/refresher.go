package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// DefaultTopic carries pre-race refresh requests.
const DefaultTopic = "pre-race-refresh"

// Refresher hands a pre-race refresh to the worker that fetches late detail.
type Refresher interface {
	Refresh(ctx context.Context, req race.RefreshRequest) error
}

// PublishRefresher publishes refresh requests to a broker topic.
type PublishRefresher struct {
	publisher race.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishRefresher returns a Refresher over publisher. An empty topic means DefaultTopic.
func NewPublishRefresher(publisher race.Publisher, topic string, logger *zap.Logger) *PublishRefresher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishRefresher{publisher: publisher, topic: topic, logger: logger}
}

// Refresh publishes req.
func (r *PublishRefresher) Refresh(ctx context.Context, req race.RefreshRequest) error {
	id, err := r.publisher.Publish(ctx, r.topic, req)
	if err != nil {
		return fmt.Errorf("publish refresh %s: %w", req.JobID, err)
	}
	r.logger.Info("refresh requested",
		zap.String("job_id", req.JobID),
		zap.String("race_id", req.RaceID),
		zap.String("trigger", string(req.Trigger)),
		zap.String("message_id", id))
	return nil
}
