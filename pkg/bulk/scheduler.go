// Package bulk fans study uploads and result acquisitions out over a bounded
// worker pool, re-submitting failed uploads for a fixed number of passes.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
	"github.com/synaptica-ai/vision-uploader/pkg/upload"
)

const (
	DefaultWorkers   = 4
	DefaultMaxPasses = 3

	failureSeparator = "Could not complete upload \n\n\n*****\n"
)

type Uploader interface {
	Upload(ctx context.Context, batch []*dicom.Dataset, opts upload.Options) (*upload.Result, error)
}

type Acquirer interface {
	Acquire(ctx context.Context, accession string) acquisition.Result
}

type Options struct {
	RegenerateUIDs           bool
	GroupByStudy             bool
	ForceAccessionEqualStudy bool
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxPasses caps the number of upload passes, the first included.
func WithMaxPasses(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxPasses = n
		}
	}
}

// PassLimitError is returned when uploads still fail after the last pass.
type PassLimitError struct {
	Passes   int
	Failures []*upload.Result
	err      error
}

func newPassLimitError(passes int, failures []*upload.Result) *PassLimitError {
	var err error
	for _, r := range failures {
		err = multierr.Append(err, fmt.Errorf("%s for %s/%s", r.Body(), r.Accession, r.StudyUID))
	}
	return &PassLimitError{Passes: passes, Failures: failures, err: err}
}

func (e *PassLimitError) Error() string {
	errs := multierr.Errors(e.err)
	texts := make([]string, len(errs))
	for i, err := range errs {
		texts[i] = err.Error()
	}
	return strings.Join(texts, failureSeparator)
}

func (e *PassLimitError) Unwrap() []error {
	return multierr.Errors(e.err)
}

func IsPassLimitError(err error) bool {
	var pe *PassLimitError
	return errors.As(err, &pe)
}

type Scheduler struct {
	uploader  Uploader
	acquirer  Acquirer
	workers   int
	maxPasses int
}

func New(uploader Uploader, acquirer Acquirer, opts ...Option) *Scheduler {
	s := &Scheduler{
		uploader:  uploader,
		acquirer:  acquirer,
		workers:   DefaultWorkers,
		maxPasses: DefaultMaxPasses,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BulkUpload uploads items as per-study units, or one unit per item, and
// returns the latest result for every unit. Units rejected for carrying too
// many images, and units that cannot be encoded, are never retried; every
// other unaccepted unit is retried on the next pass with its identifiers left
// as the first pass remapped them.
func (s *Scheduler) BulkUpload(ctx context.Context, items []*dicom.Dataset, opts Options) ([]*upload.Result, error) {
	units := s.units(items, opts.GroupByStudy)
	results := make([]*upload.Result, len(units))

	pending := make([]int, len(units))
	for i := range units {
		pending[i] = i
	}

	uploadOpts := upload.Options{
		RegenerateUIDs:           opts.RegenerateUIDs,
		ForceAccessionEqualStudy: opts.ForceAccessionEqualStudy,
	}

	for pass := 1; len(pending) > 0; pass++ {
		if err := s.runPass(ctx, units, pending, results, uploadOpts); err != nil {
			return nil, err
		}
		metrics.ObservePass()

		var residual []int
		for _, i := range pending {
			r := results[i]
			switch {
			case r.Status == upload.StatusAccepted:
			case upload.IsTooManyImages(r):
				logger.WithAccession(r.Accession).WithField("body", r.Body()).
					Warn("study has too many images and will not be retried")
			case r.Permanent:
				logger.WithAccession(r.Accession).WithField("reason", r.Reason).
					Warn("study cannot be encoded and will not be retried")
			default:
				residual = append(residual, i)
			}
		}
		uploadOpts.RegenerateUIDs = false

		logger.Log.WithFields(logrus.Fields{
			"pass":      pass,
			"remaining": len(residual),
		}).Info("completed upload pass")

		if len(residual) > 0 && pass >= s.maxPasses {
			var failures []*upload.Result
			for _, i := range pending {
				if results[i].Status != upload.StatusAccepted {
					failures = append(failures, results[i])
				}
			}
			err := newPassLimitError(pass, failures)
			logger.Log.WithError(err).Error("bulk upload did not complete")
			return results, err
		}
		pending = residual
	}
	return results, nil
}

func (s *Scheduler) runPass(ctx context.Context, units [][]*dicom.Dataset, pending []int, results []*upload.Result, opts upload.Options) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, i := range pending {
		i := i
		g.Go(func() error {
			r, err := s.uploader.Upload(ctx, units[i], opts)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) units(items []*dicom.Dataset, byStudy bool) [][]*dicom.Dataset {
	if !byStudy {
		units := make([][]*dicom.Dataset, len(items))
		for i, ds := range items {
			units[i] = []*dicom.Dataset{ds}
		}
		return units
	}
	groups := dicom.GroupByTag(items, dicom.TagStudyInstanceUID)
	units := make([][]*dicom.Dataset, len(groups))
	for i, g := range groups {
		units[i] = g.Datasets
	}
	return units
}

// BulkGet acquires results for the distinct accessions, in first-seen order.
func (s *Scheduler) BulkGet(ctx context.Context, accessions []string) []acquisition.Result {
	unique := dedupe(accessions)
	results := make([]acquisition.Result, len(unique))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, accession := range unique {
		i, accession := i, accession
		g.Go(func() error {
			results[i] = s.acquirer.Acquire(ctx, accession)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
