package acquisition

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrorMarker replaces classification, segmentation and laterality when
// every attempt failed.
const ErrorMarker = "ERROR"

type Outcome string

const (
	OutcomeComplete     Outcome = "complete"
	OutcomeServiceError Outcome = "service_error"
	OutcomeFailed       Outcome = "failed"
)

// Result is everything acquired for one accession.
//
// Segmentation maps image instance UID to finding label to mask bytes;
// Laterality maps image instance UID to finding label to side. For a service
// error, ServiceError carries the service's error payload and the other
// fields are empty.
type Result struct {
	Accession      string
	Outcome        Outcome
	Classification json.RawMessage
	Segmentation   map[string]map[string][]byte
	Laterality     map[string]map[string]string
	ServiceError   json.RawMessage
	Log            string
}

type legacyResult struct {
	Accession      string          `json:"accession"`
	Classification json.RawMessage `json:"classification"`
	Segmentation   json.RawMessage `json:"segmentation"`
	Laterality     json.RawMessage `json:"laterality"`
	GetLog         json.RawMessage `json:"get_log"`
}

var (
	nullJSON   = json.RawMessage("null")
	markerJSON = json.RawMessage(`"` + ErrorMarker + `"`)
)

// MarshalJSON renders the result in the shape downstream tooling reads:
// a service error repeats the error payload in all four fields, and a
// failed acquisition puts "ERROR" in the three result fields.
func (r Result) MarshalJSON() ([]byte, error) {
	out := legacyResult{Accession: r.Accession, GetLog: nullJSON}
	if r.Log != "" {
		logJSON, err := json.Marshal(r.Log)
		if err != nil {
			return nil, err
		}
		out.GetLog = logJSON
	}

	switch r.Outcome {
	case OutcomeFailed:
		out.Classification, out.Segmentation, out.Laterality = markerJSON, markerJSON, markerJSON
	case OutcomeServiceError:
		payload := orNull(r.ServiceError)
		out.Classification, out.Segmentation, out.Laterality, out.GetLog = payload, payload, payload, payload
	default:
		segmentation := r.Segmentation
		if segmentation == nil {
			segmentation = map[string]map[string][]byte{}
		}
		laterality := r.Laterality
		if laterality == nil {
			laterality = map[string]map[string]string{}
		}
		var err error
		if out.Segmentation, err = json.Marshal(segmentation); err != nil {
			return nil, err
		}
		if out.Laterality, err = json.Marshal(laterality); err != nil {
			return nil, err
		}
		out.Classification = orNull(r.Classification)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the shape written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in legacyResult
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Result{Accession: in.Accession}

	if bytes.Equal(bytes.TrimSpace(in.Classification), markerJSON) {
		r.Outcome = OutcomeFailed
		return json.Unmarshal(orNull(in.GetLog), &r.Log)
	}

	classification := bytes.TrimSpace(in.Classification)
	if len(classification) == 0 {
		return fmt.Errorf("result for %s has no classification", in.Accession)
	}
	if bytes.Equal(classification, bytes.TrimSpace(in.Segmentation)) &&
		bytes.Equal(classification, bytes.TrimSpace(in.Laterality)) {
		r.Outcome = OutcomeServiceError
		r.ServiceError = in.Classification
		return nil
	}

	r.Outcome = OutcomeComplete
	r.Classification = in.Classification
	if err := json.Unmarshal(orNull(in.Segmentation), &r.Segmentation); err != nil {
		return fmt.Errorf("decoding segmentation for %s: %w", in.Accession, err)
	}
	if err := json.Unmarshal(orNull(in.Laterality), &r.Laterality); err != nil {
		return fmt.Errorf("decoding laterality for %s: %w", in.Accession, err)
	}
	return json.Unmarshal(orNull(in.GetLog), &r.Log)
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nullJSON
	}
	return raw
}
