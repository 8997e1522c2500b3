package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vision-uploader/pkg/common/models"
)

func TestNewMessageKeysByAccession(t *testing.T) {
	msg, event, err := NewMessage(models.EventStudyUploaded, "vision-upload", map[string]interface{}{
		"accession_number": "ACC1",
		"images":           3,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACC1", string(msg.Key))
	assert.NotEmpty(t, event.ID)

	var decoded models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, models.EventStudyUploaded, decoded.Type)
	assert.Equal(t, "ACC1", decoded.String("accession_number"))
	assert.Equal(t, "", decoded.String("images"))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"event-type": models.EventStudyUploaded, "source": "vision-upload"}, headers)
}

func TestNewMessageFallsBackToEventID(t *testing.T) {
	msg, event, err := NewMessage(models.EventResultAcquired, "result-worker", nil)
	require.NoError(t, err)
	assert.Equal(t, event.ID, string(msg.Key))
}
