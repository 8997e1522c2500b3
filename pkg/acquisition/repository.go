package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("acquisition result not found")

// Record is the stored form of a finished acquisition, one row per
// accession.
type Record struct {
	Accession      string         `json:"accession" gorm:"primaryKey;column:accession"`
	Outcome        string         `json:"outcome" gorm:"column:outcome"`
	Classification datatypes.JSON `json:"classification" gorm:"column:classification"`
	Segmentation   datatypes.JSON `json:"segmentation" gorm:"column:segmentation"`
	Laterality     datatypes.JSON `json:"laterality" gorm:"column:laterality"`
	Log            string         `json:"log,omitempty" gorm:"column:log"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "vision_results"
}

// NewRecord converts a result to its stored form using the same field
// encoding as the result's JSON.
func NewRecord(result Result) (*Record, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result for %s: %w", result.Accession, err)
	}
	var legacy legacyResult
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	return &Record{
		Accession:      result.Accession,
		Outcome:        string(result.Outcome),
		Classification: datatypes.JSON(legacy.Classification),
		Segmentation:   datatypes.JSON(legacy.Segmentation),
		Laterality:     datatypes.JSON(legacy.Laterality),
		Log:            result.Log,
	}, nil
}

// Result rebuilds the acquisition result.
func (r *Record) Result() (Result, error) {
	var log json.RawMessage = nullJSON
	if r.Log != "" {
		encoded, err := json.Marshal(r.Log)
		if err != nil {
			return Result{}, err
		}
		log = encoded
	}
	if Outcome(r.Outcome) == OutcomeServiceError {
		log = json.RawMessage(r.Classification)
	}
	data, err := json.Marshal(legacyResult{
		Accession:      r.Accession,
		Classification: json.RawMessage(r.Classification),
		Segmentation:   json.RawMessage(r.Segmentation),
		Laterality:     json.RawMessage(r.Laterality),
		GetLog:         log,
	})
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

// Save inserts or replaces the stored result for its accession.
func (r *Repository) Save(ctx context.Context, result Result) error {
	rec, err := NewRecord(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "accession"}},
		DoUpdates: clause.AssignmentColumns([]string{"outcome", "classification", "segmentation", "laterality", "log", "updated_at"}),
	}).Create(rec).Error
}

func (r *Repository) Get(ctx context.Context, accession string) (*Record, error) {
	var rec Record
	result := r.db.WithContext(ctx).First(&rec, "accession = ?", accession)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}
