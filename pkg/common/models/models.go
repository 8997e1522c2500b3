package models

import (
	"time"
)

// Event types carried on the bus
const (
	EventStudyUploaded  = "vision.study.uploaded"
	EventResultAcquired = "vision.result.acquired"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // vision.study.uploaded, vision.result.acquired
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// String returns the named field of the event payload, or "".
func (e Event) String(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}
