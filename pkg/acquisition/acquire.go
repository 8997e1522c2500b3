package acquisition

import (
	"context"
	"fmt"
	"strings"

	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
)

// Acquire fetches everything the service produced for accession. It never
// returns an error: failures are reported through the result's Outcome and
// Log so one accession cannot stop a batch.
func (a *Acquirer) Acquire(ctx context.Context, accession string) Result {
	entry := logger.WithAccession(accession)

	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, accession)
		if err != nil {
			entry.WithError(err).Warn("result cache lookup failed")
		} else if ok {
			metrics.ObserveAcquisition("cached")
			return *cached
		}
	}

	var log strings.Builder
	for attempt := 0; attempt < a.attempts; attempt++ {
		result, err := a.attempt(ctx, accession)
		if err == nil {
			result.Log = log.String()
			a.finish(ctx, &result)
			return result
		}

		entry.WithError(err).WithField("attempt", attempt).Warn("result acquisition attempt failed")
		fmt.Fprintf(&log, "Attempt %d encountered error: %v\n", attempt, err)
		if ctx.Err() != nil {
			break
		}
	}

	result := Result{Accession: accession, Outcome: OutcomeFailed, Log: log.String()}
	a.finish(ctx, &result)
	return result
}

func (a *Acquirer) finish(ctx context.Context, result *Result) {
	metrics.ObserveAcquisition(string(result.Outcome))
	entry := logger.WithAccession(result.Accession).WithField("outcome", result.Outcome)
	if result.Outcome != OutcomeComplete {
		entry.Warn("result acquisition finished without results")
		return
	}
	entry.Info("result acquired")

	if a.cache != nil {
		if err := a.cache.Set(ctx, result); err != nil {
			entry.WithError(err).Warn("failed to cache result")
		}
	}
}

// attempt runs one pass of classification, segment lookup and mask download.
func (a *Acquirer) attempt(ctx context.Context, accession string) (Result, error) {
	classification, err := a.FetchStatus(ctx, accession, a.timeout)
	if err != nil {
		return Result{}, err
	}

	if classification.Vision == nil {
		return Result{
			Accession:    accession,
			Outcome:      OutcomeServiceError,
			ServiceError: classification.VisionErrors,
		}, nil
	}

	laterality := make(map[string]map[string]string)
	labels := make(map[string]string)
	for _, image := range classification.Vision.Images {
		for _, segment := range image.Segments {
			if segment.Laterality != nil {
				if laterality[image.ImageInstanceUID] == nil {
					laterality[image.ImageInstanceUID] = make(map[string]string)
				}
				laterality[image.ImageInstanceUID][segment.Label] = *segment.Laterality
				continue
			}
			labels[idKey(segment.ID)] = segment.Label
		}
	}

	segmentation := make(map[string]map[string][]byte)
	if len(labels) > 0 {
		refs, err := a.FetchSegmentRefs(ctx, classification)
		if err != nil {
			return Result{}, err
		}
		for _, ref := range refs {
			label, ok := labels[ref.ID]
			if !ok {
				label = ref.ID
			}
			mask, err := a.FetchSegmentMask(ctx, ref.URL)
			if err != nil {
				return Result{}, fmt.Errorf("segment %s (%s): %w", ref.ID, label, err)
			}
			if segmentation[ref.ImageInstanceUID] == nil {
				segmentation[ref.ImageInstanceUID] = make(map[string][]byte)
			}
			segmentation[ref.ImageInstanceUID][label] = mask
		}
	}

	return Result{
		Accession:      accession,
		Outcome:        OutcomeComplete,
		Classification: classification.Raw,
		Segmentation:   segmentation,
		Laterality:     laterality,
	}, nil
}
