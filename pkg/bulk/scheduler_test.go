package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
	"github.com/synaptica-ai/vision-uploader/pkg/upload"
)

const tooManyImages = "DecodeJsonError: 'images' must contain less than or equal to 200 items"

type outcome struct {
	status upload.Status
	code   int
	body   string
	err    error
}

var (
	accepted    = outcome{status: upload.StatusAccepted, code: 200, body: "{}"}
	unavailable = outcome{status: upload.StatusRejected, code: 503, body: "service unavailable"}
	overLimit   = outcome{status: upload.StatusRejected, code: 400, body: tooManyImages}
)

type fakeUploader struct {
	mu       sync.Mutex
	scripts  map[string][]outcome
	calls    map[string][]upload.Options
	sizes    map[string]int
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		scripts: make(map[string][]outcome),
		calls:   make(map[string][]upload.Options),
		sizes:   make(map[string]int),
	}
}

func (f *fakeUploader) Upload(_ context.Context, batch []*dicom.Dataset, opts upload.Options) (*upload.Result, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	accession := batch[0].Value(dicom.TagAccessionNumber)
	f.mu.Lock()
	f.calls[accession] = append(f.calls[accession], opts)
	f.sizes[accession] = len(batch)
	script := f.scripts[accession]
	o := accepted
	if len(script) > 0 {
		o = script[0]
		if len(script) > 1 {
			f.scripts[accession] = script[1:]
		}
	}
	f.mu.Unlock()

	if o.err != nil {
		return nil, o.err
	}
	return &upload.Result{
		Status:    o.status,
		Response:  &transport.Response{StatusCode: o.code, Body: []byte(o.body)},
		Accession: accession,
		StudyUID:  batch[0].Value(dicom.TagStudyInstanceUID),
		Datasets:  batch,
	}, nil
}

func study(accession string, images int) []*dicom.Dataset {
	out := make([]*dicom.Dataset, images)
	for i := range out {
		ds := dicom.NewDataset()
		ds.Set(dicom.TagAccessionNumber, accession)
		ds.Set(dicom.TagStudyInstanceUID, "1.2."+accession)
		out[i] = ds
	}
	return out
}

func items(studies ...[]*dicom.Dataset) []*dicom.Dataset {
	var out []*dicom.Dataset
	for _, s := range studies {
		out = append(out, s...)
	}
	return out
}

func TestBulkUploadRetriesOnlyRecoverableFailures(t *testing.T) {
	uploader := newFakeUploader()
	uploader.scripts["B"] = []outcome{overLimit}
	uploader.scripts["C"] = []outcome{unavailable, accepted}
	s := New(uploader, nil, WithWorkers(2))

	results, err := s.BulkUpload(context.Background(),
		items(study("A", 2), study("B", 3), study("C", 1)),
		Options{RegenerateUIDs: true, GroupByStudy: true})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, upload.StatusAccepted, results[0].Status)
	assert.True(t, upload.IsTooManyImages(results[1]))
	assert.Equal(t, upload.StatusAccepted, results[2].Status)

	assert.Len(t, uploader.calls["A"], 1)
	assert.Len(t, uploader.calls["B"], 1, "too many images is never re-queued")
	require.Len(t, uploader.calls["C"], 2)
	assert.True(t, uploader.calls["C"][0].RegenerateUIDs)
	assert.False(t, uploader.calls["C"][1].RegenerateUIDs, "identifiers are regenerated on the first pass only")
	assert.Equal(t, 3, uploader.sizes["B"])
}

func TestBulkUploadPassLimit(t *testing.T) {
	uploader := newFakeUploader()
	uploader.scripts["D"] = []outcome{{status: upload.StatusFailed, code: 500, body: "boom"}}
	uploader.scripts["E"] = []outcome{unavailable}
	s := New(uploader, nil)

	results, err := s.BulkUpload(context.Background(),
		items(study("D", 1), study("E", 1), study("F", 1)),
		Options{GroupByStudy: true})
	require.Error(t, err)
	assert.True(t, IsPassLimitError(err))

	var pe *PassLimitError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Passes)
	assert.Len(t, pe.Failures, 2)
	assert.Equal(t,
		"boom for D/1.2.D"+"Could not complete upload \n\n\n*****\n"+"service unavailable for E/1.2.E",
		err.Error())

	assert.Len(t, uploader.calls["D"], 3)
	assert.Len(t, uploader.calls["E"], 3)
	assert.Len(t, uploader.calls["F"], 1)
	require.Len(t, results, 3)
	assert.Equal(t, upload.StatusAccepted, results[2].Status)
}

func TestBulkUploadMaxPassesOption(t *testing.T) {
	uploader := newFakeUploader()
	uploader.scripts["G"] = []outcome{unavailable}
	s := New(uploader, nil, WithMaxPasses(1))

	_, err := s.BulkUpload(context.Background(), study("G", 1), Options{GroupByStudy: true})
	assert.True(t, IsPassLimitError(err))
	assert.Len(t, uploader.calls["G"], 1)
}

func TestBulkUploadPreconditionAbortsRun(t *testing.T) {
	uploader := newFakeUploader()
	uploader.scripts["H"] = []outcome{{err: &upload.PreconditionError{Reason: "mixed studies"}}}
	s := New(uploader, nil)

	results, err := s.BulkUpload(context.Background(), study("H", 1), Options{GroupByStudy: true})
	assert.Nil(t, results)
	assert.True(t, upload.IsPreconditionError(err))
}

func TestBulkUploadOneUnitPerItem(t *testing.T) {
	uploader := newFakeUploader()
	s := New(uploader, nil)

	results, err := s.BulkUpload(context.Background(), study("I", 3), Options{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Len(t, uploader.calls["I"], 3)
	assert.Equal(t, 1, uploader.sizes["I"])
}

func TestBulkUploadRespectsWorkerLimit(t *testing.T) {
	uploader := newFakeUploader()
	uploader.delay = 5 * time.Millisecond
	s := New(uploader, nil, WithWorkers(2))

	var all []*dicom.Dataset
	for _, acc := range []string{"J1", "J2", "J3", "J4", "J5", "J6"} {
		all = append(all, study(acc, 1)...)
	}
	_, err := s.BulkUpload(context.Background(), all, Options{GroupByStudy: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&uploader.maxSeen), int32(2))
}

type fakeAcquirer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeAcquirer) Acquire(_ context.Context, accession string) acquisition.Result {
	f.mu.Lock()
	f.calls[accession]++
	f.mu.Unlock()
	return acquisition.Result{Accession: accession, Outcome: acquisition.OutcomeComplete}
}

func TestBulkGetDeduplicates(t *testing.T) {
	acquirer := &fakeAcquirer{calls: make(map[string]int)}
	s := New(nil, acquirer, WithWorkers(3))

	results := s.BulkGet(context.Background(), []string{"A", "B", "A", "C", "B"})
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].Accession)
	assert.Equal(t, "B", results[1].Accession)
	assert.Equal(t, "C", results[2].Accession)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, acquirer.calls)
}
