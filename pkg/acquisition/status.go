package acquisition

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PollState is the vision status the service reports for a study.
type PollState string

const (
	StatePending    PollState = "PENDING"
	StateInProgress PollState = "IN_PROGRESS"
	StateComplete   PollState = "COMPLETE"
	StateError      PollState = "ERROR"

	// stateNotListed is recorded when the accession is not yet known.
	stateNotListed PollState = "NOT_LISTED"
)

// Terminal reports whether polling can stop. Any state other than pending
// or in progress is terminal.
func (s PollState) Terminal() bool {
	return s != StatePending && s != StateInProgress
}

// Classification is one study entry from the filter endpoint. Raw keeps the
// payload exactly as received.
type Classification struct {
	Raw          json.RawMessage
	State        PollState
	Vision       *VisionFindings
	VisionErrors json.RawMessage
}

type VisionFindings struct {
	ID     json.RawMessage `json:"id"`
	Images []ImageFindings `json:"images"`
}

type ImageFindings struct {
	ImageInstanceUID string    `json:"imageInstanceUid"`
	Segments         []Segment `json:"segments"`
}

type Segment struct {
	ID         json.RawMessage `json:"id"`
	Label      string          `json:"label"`
	Laterality *string         `json:"laterality,omitempty"`
}

type studyEnvelope struct {
	Status struct {
		Vision PollState `json:"vision"`
	} `json:"status"`
	Findings struct {
		Vision *VisionFindings `json:"vision"`
	} `json:"findings"`
	Errors struct {
		Vision json.RawMessage `json:"vision"`
	} `json:"errors"`
}

func parseClassification(raw json.RawMessage) (*Classification, error) {
	var env studyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding study: %w", err)
	}
	return &Classification{
		Raw:          raw,
		State:        env.Status.Vision,
		Vision:       env.Findings.Vision,
		VisionErrors: env.Errors.Vision,
	}, nil
}

// idKey renders a JSON id, string or number, as a map key.
func idKey(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
