package upload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// uploadedAtLayout matches the timestamps written by earlier tooling so
// existing correlation sheets stay comparable.
const uploadedAtLayout = "2006-01-02 15:04:05.000000"

var csvHeaders = []string{
	"Original AccessionNumber",
	"Original PatientId",
	"Original StudyInstanceUID",
	"Original SeriesInstanceUID",
	"Original SOPInstanceUID",
	"New AccessionNumber",
	"New PatientId",
	"New StudyInstanceUID",
	"New SeriesInstanceUID",
	"New SOPInstanceUID",
	"Response Status Code",
	"Response Reason",
	"Uploaded At",
}

// Entry correlates one uploaded instance with the identifiers it had before
// remapping, plus the response the service gave for its study.
type Entry struct {
	ID    uint   `json:"-" gorm:"primaryKey;column:id"`
	RunID string `json:"run_id,omitempty" gorm:"column:run_id;index"`

	OriginalAccession string `json:"original_accession" gorm:"column:original_accession"`
	OriginalPatientID string `json:"original_patient_id" gorm:"column:original_patient_id"`
	OriginalStudyUID  string `json:"original_study_uid" gorm:"column:original_study_uid"`
	OriginalSeriesUID string `json:"original_series_uid" gorm:"column:original_series_uid"`
	OriginalSOPUID    string `json:"original_sop_uid" gorm:"column:original_sop_uid"`

	NewAccession string `json:"new_accession" gorm:"column:new_accession;index"`
	NewPatientID string `json:"new_patient_id" gorm:"column:new_patient_id"`
	NewStudyUID  string `json:"new_study_uid" gorm:"column:new_study_uid;index"`
	NewSeriesUID string `json:"new_series_uid" gorm:"column:new_series_uid"`
	NewSOPUID    string `json:"new_sop_uid" gorm:"column:new_sop_uid"`

	StatusCode int        `json:"status_code,omitempty" gorm:"column:status_code"`
	Reason     string     `json:"reason,omitempty" gorm:"column:reason"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty" gorm:"column:uploaded_at"`
}

func (Entry) TableName() string {
	return "upload_correlations"
}

func (e Entry) csvRow() []string {
	code, uploadedAt := "", ""
	if e.StatusCode != 0 {
		code = strconv.Itoa(e.StatusCode)
	}
	if e.UploadedAt != nil {
		uploadedAt = e.UploadedAt.Format(uploadedAtLayout)
	}
	return []string{
		e.OriginalAccession,
		e.OriginalPatientID,
		e.OriginalStudyUID,
		e.OriginalSeriesUID,
		e.OriginalSOPUID,
		e.NewAccession,
		e.NewPatientID,
		e.NewStudyUID,
		e.NewSeriesUID,
		e.NewSOPUID,
		code,
		e.Reason,
		uploadedAt,
	}
}

// CorrelationLog collects entries from concurrent uploads for one run.
type CorrelationLog struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewCorrelationLog() *CorrelationLog {
	return &CorrelationLog{}
}

func (l *CorrelationLog) Append(entries ...Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range entries {
		entry := entries[i]
		l.entries = append(l.entries, &entry)
	}
}

// Record stamps every entry whose new study UID matches with the response
// outcome and returns how many entries were updated.
func (l *CorrelationLog) Record(studyUID string, statusCode int, reason string, at time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := 0
	for _, entry := range l.entries {
		if entry.NewStudyUID != studyUID {
			continue
		}
		stamp := at
		entry.StatusCode = statusCode
		entry.Reason = reason
		entry.UploadedAt = &stamp
		updated++
	}
	return updated
}

// Entries returns a snapshot of the log.
func (l *CorrelationLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i, entry := range l.entries {
		out[i] = *entry
	}
	return out
}

func (l *CorrelationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *CorrelationLog) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.Write(csvHeaders); err != nil {
		return fmt.Errorf("writing correlation header: %w", err)
	}
	for _, entry := range l.Entries() {
		if err := writer.Write(entry.csvRow()); err != nil {
			return fmt.Errorf("writing correlation row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFile writes the CSV to path, creating parent directories.
func (l *CorrelationLog) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating correlation file: %w", err)
	}
	if err := l.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
