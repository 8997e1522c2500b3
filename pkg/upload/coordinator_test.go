package upload

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/common/models"
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type call struct {
	path    string
	payload map[string]interface{}
}

// fakeService answers posts per path from a script; once a script runs out
// the last reply repeats.
type fakeService struct {
	mu      sync.Mutex
	calls   []call
	replies map[string][]reply
}

type reply struct {
	resp *transport.Response
	err  error
}

func ok() reply {
	return reply{resp: &transport.Response{StatusCode: 200, Reason: "OK", Body: []byte(`{}`)}}
}

func status(code int, reason, body string) reply {
	return reply{resp: &transport.Response{StatusCode: code, Reason: reason, Body: []byte(body)}}
}

func transient() reply {
	return reply{err: retry.Transient(syscall.ECONNRESET)}
}

func newFakeService() *fakeService {
	return &fakeService{replies: map[string][]reply{
		UploadPath:  {ok()},
		PredictPath: {ok()},
	}}
}

func (f *fakeService) Post(_ context.Context, path string, payload interface{}) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call{path: path, payload: payload.(map[string]interface{})})
	script := f.replies[path]
	next := script[0]
	if len(script) > 1 {
		f.replies[path] = script[1:]
	}
	return next.resp, next.err
}

func (f *fakeService) callsTo(path string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

type recordingNotifier struct {
	events []map[string]interface{}
	types  []string
}

func (n *recordingNotifier) PublishEvent(_ context.Context, eventType, _ string, data map[string]interface{}) error {
	n.types = append(n.types, eventType)
	n.events = append(n.events, data)
	return nil
}

func instance(studyUID, accession, sopUID string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.Set(dicom.TagTransferSyntaxUID, dicom.JPEG2000Lossless)
	ds.Set(dicom.TagStudyInstanceUID, studyUID)
	ds.Set(dicom.TagSeriesInstanceUID, studyUID+".1")
	ds.Set(dicom.TagSOPInstanceUID, sopUID)
	ds.Set(dicom.TagPatientID, "PATIENT-1")
	if accession != "" {
		ds.Set(dicom.TagAccessionNumber, accession)
	}
	ds.Set(dicom.TagRows, "16")
	ds.Set(dicom.TagColumns, "16")
	ds.PixelData = [][]byte{[]byte("j2k")}
	return ds
}

func newCoordinator(svc *fakeService, opts ...Option) *Coordinator {
	opts = append([]Option{WithRetryInterval(0), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewCoordinator(svc, NewCorrelationLog(), opts...)
}

func csvRows(t *testing.T, log *CorrelationLog) [][]string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, log.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestUploadRejectsMixedStudiesBeforeAnyCall(t *testing.T) {
	svc := newFakeService()
	c := newCoordinator(svc)

	_, err := c.Upload(context.Background(), []*dicom.Dataset{
		instance("1.1", "ACC1", "1.1.1"),
		instance("2.2", "ACC1", "2.2.1"),
	}, Options{})

	assert.True(t, IsPreconditionError(err))
	assert.Empty(t, svc.calls)
	assert.Zero(t, c.Log().Len())
}

func TestUploadRejectsMixedAccessions(t *testing.T) {
	svc := newFakeService()
	c := newCoordinator(svc)

	_, err := c.Upload(context.Background(), []*dicom.Dataset{
		instance("1.1", "ACC1", "1.1.1"),
		instance("1.1", "", "1.1.2"),
	}, Options{})

	assert.True(t, IsPreconditionError(err))
	assert.Empty(t, svc.calls)
}

func TestUploadKeepingIdentifiers(t *testing.T) {
	svc := newFakeService()
	c := newCoordinator(svc)

	result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Equal(t, "ACC1", result.Accession)
	assert.Equal(t, "1.2.3", result.StudyUID)

	uploads := svc.callsTo(UploadPath)
	require.Len(t, uploads, 1)
	study := uploads[0].payload["study"].(map[string]interface{})
	assert.Equal(t, "1.2.3", study["studyInstanceUid"])
	assert.Equal(t, "ACC1", study["accessionNumber"])
	assert.Equal(t, "PATIENT-1", study["patientId"])
	images := uploads[0].payload["images"].([]map[string]interface{})
	assert.Equal(t, "1.2.3.9", images[0]["imageInstanceUid"])
	assert.Equal(t, "1.2.3.1", uploads[0].payload["series"].(map[string]interface{})["seriesInstanceUid"])

	predicts := svc.callsTo(PredictPath)
	require.Len(t, predicts, 1)
	assert.Equal(t, "1.2.3", predicts[0].payload["studyInstanceUid"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), predicts[0].payload["triggeredAt"])

	var buf bytes.Buffer
	require.NoError(t, c.Log().WriteCSV(&buf))
	assert.True(t, strings.HasSuffix(buf.String(), "\r\n"))
	assert.Equal(t, 2, strings.Count(buf.String(), "\r\n"), "every row ends in CRLF")

	rows := csvRows(t, c.Log())
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeaders, rows[0])
	assert.Equal(t, []string{
		"ACC1", "PATIENT-1", "1.2.3", "1.2.3.1", "1.2.3.9",
		"ACC1", "PATIENT-1", "1.2.3", "1.2.3.1", "1.2.3.9",
		"200", "OK", "2024-03-01 09:30:00.000000",
	}, rows[1])
}

func TestUploadRegeneratesIdentifiers(t *testing.T) {
	svc := newFakeService()
	c := newCoordinator(svc)
	batch := []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9"), instance("1.2.3", "ACC1", "1.2.3.10")}

	result, err := c.Upload(context.Background(), batch, Options{RegenerateUIDs: true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.StudyUID, "2.25."))
	assert.Len(t, result.Accession, 16)
	assert.NotEqual(t, "ACC1", result.Accession)

	entries := c.Log().Entries()
	require.Len(t, entries, 2)
	for i, entry := range entries {
		assert.Equal(t, "ACC1", entry.OriginalAccession)
		assert.Equal(t, result.StudyUID, entry.NewStudyUID)
		assert.Equal(t, result.Accession, entry.NewAccession)
		assert.Len(t, entry.NewPatientID, 16)
		assert.NotEqual(t, entry.OriginalSOPUID, entry.NewSOPUID)
		assert.Equal(t, entry.NewSOPUID, batch[i].Value(dicom.TagSOPInstanceUID))
		assert.Equal(t, 200, entry.StatusCode)
	}
	assert.NotEqual(t, entries[0].NewSeriesUID, entries[1].NewSeriesUID)

	study := svc.callsTo(UploadPath)[0].payload["study"].(map[string]interface{})
	assert.Equal(t, result.StudyUID, study["studyInstanceUid"])
}

func TestUploadForcesAccessionToStudyUID(t *testing.T) {
	for _, regenerate := range []bool{false, true} {
		svc := newFakeService()
		c := newCoordinator(svc)

		result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")},
			Options{RegenerateUIDs: regenerate, ForceAccessionEqualStudy: true})
		require.NoError(t, err)
		assert.Equal(t, result.StudyUID, result.Accession)
	}
}

func TestUploadExhaustedRetriesDegradeToFailed(t *testing.T) {
	svc := newFakeService()
	svc.replies[UploadPath] = []reply{transient()}
	c := newCoordinator(svc)

	result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 500, result.StatusCode())
	assert.NotEmpty(t, result.Reason)
	assert.Len(t, svc.callsTo(UploadPath), 3)
	assert.Empty(t, svc.callsTo(PredictPath))

	rows := csvRows(t, c.Log())
	assert.Equal(t, "500", rows[1][10])
	assert.Equal(t, result.Reason, rows[1][11])
}

func TestUploadRecoversFromTransientFailure(t *testing.T) {
	svc := newFakeService()
	svc.replies[UploadPath] = []reply{transient(), transient(), ok()}
	c := newCoordinator(svc)

	result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Len(t, svc.callsTo(UploadPath), 3)
}

func TestUploadNonOKIsRejectedWithoutPrediction(t *testing.T) {
	svc := newFakeService()
	svc.replies[UploadPath] = []reply{status(400, "Bad Request", "DecodeJsonError: 'images' must contain less than or equal to 4 items")}
	c := newCoordinator(svc)

	result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, 400, result.StatusCode())
	assert.True(t, IsTooManyImages(result))
	assert.Len(t, svc.callsTo(UploadPath), 1)
	assert.Empty(t, svc.callsTo(PredictPath))

	rows := csvRows(t, c.Log())
	assert.Equal(t, []string{"400", "Bad Request"}, rows[1][10:12])
}

func TestUploadPredictionRejected(t *testing.T) {
	svc := newFakeService()
	svc.replies[PredictPath] = []reply{status(409, "Conflict", "already predicted")}
	c := newCoordinator(svc)

	result, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, 409, result.StatusCode())
	assert.False(t, IsTooManyImages(result))
}

func TestUploadNotifiesOnAcceptance(t *testing.T) {
	svc := newFakeService()
	notifier := &recordingNotifier{}
	c := newCoordinator(svc, WithNotifier(notifier))

	_, err := c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.3", "ACC1", "1.2.3.9")}, Options{})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.EventStudyUploaded, notifier.types[0])
	assert.Equal(t, "ACC1", notifier.events[0]["accession_number"])

	svc.replies[UploadPath] = []reply{status(500, "Internal Server Error", "")}
	_, err = c.Upload(context.Background(), []*dicom.Dataset{instance("1.2.4", "ACC2", "1.2.4.9")}, Options{})
	require.NoError(t, err)
	assert.Len(t, notifier.events, 1)
}

func TestUploadUnusablePixelDataFailsTheStudy(t *testing.T) {
	svc := newFakeService()
	c := newCoordinator(svc)
	ds := instance("1.2.3", "ACC1", "1.2.3.9")
	ds.Set(dicom.TagTransferSyntaxUID, "1.2.840.10008.1.2.1")

	result, err := c.Upload(context.Background(), []*dicom.Dataset{ds}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, result.Permanent)
	assert.Equal(t, 500, result.StatusCode())
	assert.Equal(t, "building upload request: "+dicom.ErrUnsupportedTransferSyntax.Error(), result.Reason)
	assert.Empty(t, svc.calls)

	rows := csvRows(t, c.Log())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"500", result.Reason, "2024-03-01 09:30:00.000000"}, rows[1][10:])
}

func TestCorrelationLogIsSafeForConcurrentUse(t *testing.T) {
	log := NewCorrelationLog()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(Entry{NewStudyUID: "1.2"})
			log.Record("1.2", 200, "OK", fixedNow)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, log.Len())
	for _, entry := range log.Entries() {
		assert.Equal(t, 200, entry.StatusCode)
	}
}
