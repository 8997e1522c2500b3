// Package worker turns study-uploaded events into stored classification
// results and serves them back over HTTP.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/common/models"
)

const eventSource = "result-worker"

var ErrNotFound = errors.New("result not found")

type Acquirer interface {
	Acquire(ctx context.Context, accession string) acquisition.Result
}

// Store is satisfied by acquisition.Repository.
type Store interface {
	Save(ctx context.Context, result acquisition.Result) error
	Get(ctx context.Context, accession string) (*acquisition.Record, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	acquirer  Acquirer
	store     Store
	publisher Publisher
}

// NewService wires the worker. store and publisher may be nil.
func NewService(acquirer Acquirer, store Store, publisher Publisher) *Service {
	return &Service{acquirer: acquirer, store: store, publisher: publisher}
}

// HandleEvent acquires the result for an uploaded study. Only a failure to
// store the result is returned, so the consumer retries the event.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventStudyUploaded {
		logger.Log.WithField("event_type", event.Type).Debug("ignoring event")
		return nil
	}
	accession := event.String("accession_number")
	if accession == "" {
		logger.Log.WithField("event_id", event.ID).Warn("upload event without accession number")
		return nil
	}

	result, err := s.Acquire(ctx, accession)
	if err != nil {
		return err
	}
	logger.WithAccession(accession).WithField("outcome", result.Outcome).Info("processed upload event")
	return nil
}

// Acquire fetches, stores and announces the result for accession.
func (s *Service) Acquire(ctx context.Context, accession string) (acquisition.Result, error) {
	result := s.acquirer.Acquire(ctx, accession)

	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			return result, fmt.Errorf("storing result for %s: %w", accession, err)
		}
	}

	if s.publisher != nil {
		data := map[string]interface{}{
			"accession_number": accession,
			"outcome":          string(result.Outcome),
		}
		if err := s.publisher.PublishEvent(ctx, models.EventResultAcquired, eventSource, data); err != nil {
			logger.WithAccession(accession).WithError(err).Warn("failed to publish result event")
		}
	}
	return result, nil
}

// Result returns the stored result for accession.
func (s *Service) Result(ctx context.Context, accession string) (acquisition.Result, error) {
	if s.store == nil {
		return acquisition.Result{}, ErrNotFound
	}
	rec, err := s.store.Get(ctx, accession)
	if errors.Is(err, acquisition.ErrNotFound) {
		return acquisition.Result{}, ErrNotFound
	}
	if err != nil {
		return acquisition.Result{}, err
	}
	return rec.Result()
}
