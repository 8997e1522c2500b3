package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/common/models"
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

const (
	UploadPath  = "/v1/images/upload"
	PredictPath = "/v1/studies/predict"

	// missingAccession stands in for an absent AccessionNumber when checking
	// that a batch carries a single accession.
	missingAccession = "empty"

	// tooManyImagesMessage prefixes the service's rejection of studies over
	// its image limit. Such studies can never be accepted as they are.
	tooManyImagesMessage = "DecodeJsonError: 'images' must contain less than or equal to"

	eventSource = "vision-upload"
)

type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Result is the outcome of uploading one study. Response is set for
// accepted and rejected uploads; Reason explains a failed one. Permanent
// marks failures another attempt cannot change, such as pixel data that
// cannot be sent.
type Result struct {
	Status    Status
	Response  *transport.Response
	Reason    string
	Permanent bool
	Accession string
	StudyUID  string
	Datasets  []*dicom.Dataset
}

// StatusCode reports the response code, or 500 for uploads that never got a
// usable response.
func (r *Result) StatusCode() int {
	if r.Response == nil {
		return 500
	}
	return r.Response.StatusCode
}

// Body is the response body, or the failure reason.
func (r *Result) Body() string {
	if r.Response == nil {
		return r.Reason
	}
	return r.Response.Text()
}

// IsTooManyImages reports whether the service rejected the study for
// exceeding its image limit.
func IsTooManyImages(r *Result) bool {
	return r != nil &&
		r.Status == StatusRejected &&
		r.StatusCode() == 400 &&
		strings.Contains(r.Body(), tooManyImagesMessage)
}

type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("study batch rejected: %s: %v", e.Reason, e.Err)
	}
	return "study batch rejected: " + e.Reason
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// CheckBatch verifies that every member resolves to one study UID and one
// accession, an absent accession counting as its own value.
func CheckBatch(batch []*dicom.Dataset) error {
	if len(batch) == 0 {
		return &PreconditionError{Reason: "no datasets"}
	}
	studies := make(map[string]struct{})
	accessions := make(map[string]struct{})
	for _, ds := range batch {
		studies[ds.Value(dicom.TagStudyInstanceUID)] = struct{}{}
		accession := missingAccession
		if ds.Has(dicom.TagAccessionNumber) {
			accession = ds.Value(dicom.TagAccessionNumber)
		}
		accessions[accession] = struct{}{}
	}
	if len(studies) != 1 || len(accessions) != 1 {
		return &PreconditionError{Reason: fmt.Sprintf(
			"expected one StudyInstanceUID and one AccessionNumber, found %d and %d",
			len(studies), len(accessions))}
	}
	return nil
}

type Poster interface {
	Post(ctx context.Context, path string, payload interface{}) (*transport.Response, error)
}

// Notifier publishes domain events; the kafka producer satisfies it.
type Notifier interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Extractor turns a remapped batch into the upload payload.
type Extractor func(batch []*dicom.Dataset) (map[string]interface{}, error)

type Options struct {
	RegenerateUIDs           bool
	ForceAccessionEqualStudy bool
}

type Option func(*Coordinator)

func WithRetryInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.uploadPolicy = c.uploadPolicy.WithInterval(interval)
		c.predictPolicy = c.predictPolicy.WithInterval(interval)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithExtractor(e Extractor) Option {
	return func(c *Coordinator) { c.extract = e }
}

type Coordinator struct {
	client        Poster
	log           *CorrelationLog
	uploadPolicy  retry.Policy
	predictPolicy retry.Policy
	now           func() time.Time
	notifier      Notifier
	extract       Extractor
}

func NewCoordinator(client Poster, log *CorrelationLog, opts ...Option) *Coordinator {
	if log == nil {
		log = NewCorrelationLog()
	}
	c := &Coordinator{
		client:        client,
		log:           log,
		uploadPolicy:  retry.New("upload images", 3),
		predictPolicy: retry.New("trigger prediction", 3),
		now:           time.Now,
		extract:       dicom.VisionRequest,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Log() *CorrelationLog {
	return c.log
}

// Upload remaps, uploads and triggers inference for one study. A non-nil
// error means the batch mixes studies or accessions, or ctx ended. Service
// outcomes, exhausted retries and studies that cannot be encoded are
// reported through the Result.
func (c *Coordinator) Upload(ctx context.Context, batch []*dicom.Dataset, opts Options) (*Result, error) {
	if err := CheckBatch(batch); err != nil {
		return nil, err
	}

	c.log.Append(Remap(batch, opts.RegenerateUIDs, opts.ForceAccessionEqualStudy)...)

	result := &Result{
		Accession: batch[0].Value(dicom.TagAccessionNumber),
		StudyUID:  batch[0].Value(dicom.TagStudyInstanceUID),
		Datasets:  batch,
	}
	entry := logger.WithAccession(result.Accession).WithFields(logrus.Fields{
		"study_instance_uid": result.StudyUID,
		"images":             len(batch),
	})

	payload, err := c.extract(batch)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("building upload request: %v", err)
		result.Permanent = true
	} else if err := c.send(ctx, result, payload); err != nil {
		return nil, err
	}

	switch result.Status {
	case StatusAccepted:
		entry.Info("study uploaded and prediction triggered")
		c.notify(ctx, result)
	case StatusRejected:
		entry.WithFields(logrus.Fields{
			"status": result.StatusCode(),
			"body":   result.Body(),
		}).Warn("study rejected by classification service")
	case StatusFailed:
		if result.Permanent {
			entry.WithField("reason", result.Reason).Error("study cannot be uploaded")
		} else {
			entry.WithField("reason", result.Reason).Warn("study upload failed after all attempts")
		}
	}

	reason := result.Reason
	if result.Response != nil {
		reason = result.Response.Reason
	}
	c.log.Record(result.StudyUID, result.StatusCode(), reason, c.now())
	metrics.ObserveUpload(string(result.Status))
	return result, nil
}

func (c *Coordinator) send(ctx context.Context, result *Result, payload map[string]interface{}) error {
	resp, err := retry.Do(ctx, c.uploadPolicy, func(ctx context.Context, _ *retry.Budget) (*transport.Response, error) {
		return c.client.Post(ctx, UploadPath, payload)
	})
	if err != nil {
		return c.fail(result, err)
	}
	if !resp.OK() {
		result.Status = StatusRejected
		result.Response = resp
		return nil
	}

	trigger := map[string]interface{}{
		"studyInstanceUid": result.StudyUID,
		"triggeredAt":      c.now().Format(time.RFC3339Nano),
	}
	resp, err = retry.Do(ctx, c.predictPolicy, func(ctx context.Context, _ *retry.Budget) (*transport.Response, error) {
		return c.client.Post(ctx, PredictPath, trigger)
	})
	if err != nil {
		return c.fail(result, err)
	}

	result.Response = resp
	result.Status = StatusRejected
	if resp.OK() {
		result.Status = StatusAccepted
	}
	return nil
}

// fail degrades remote errors into a failed result; anything else, such as
// cancellation, is returned to the caller.
func (c *Coordinator) fail(result *Result, err error) error {
	if !retry.IsRemote(err) || ctxDone(err) {
		return fmt.Errorf("uploading study %s: %w", result.StudyUID, err)
	}
	result.Status = StatusFailed
	result.Reason = err.Error()
	return nil
}

func ctxDone(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (c *Coordinator) notify(ctx context.Context, result *Result) {
	if c.notifier == nil {
		return
	}
	data := map[string]interface{}{
		"accession_number":   result.Accession,
		"study_instance_uid": result.StudyUID,
		"images":             len(result.Datasets),
	}
	if err := c.notifier.PublishEvent(ctx, models.EventStudyUploaded, eventSource, data); err != nil {
		logger.WithAccession(result.Accession).WithError(err).Warn("failed to publish upload event")
	}
}
