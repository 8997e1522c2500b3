package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesObservations(t *testing.T) {
	ObserveUpload("accepted")
	ObservePass()
	ObservePoll("PENDING")
	ObserveAcquisition("complete")
	ObserveRequest(http.MethodPost, 0, 10*time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `vision_upload_studies_total{outcome="accepted"}`)
	assert.Contains(t, text, "vision_upload_passes_total")
	assert.Contains(t, text, `vision_acquisition_polls_total{state="PENDING"}`)
	assert.Contains(t, text, `vision_acquisition_results_total{outcome="complete"}`)
	assert.Contains(t, text, `vision_transport_requests_total{code="error",method="POST"}`)
}
