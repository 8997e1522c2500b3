package upload

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{})
}

// SaveAll stores a run's correlation entries.
func (r *Repository) SaveAll(ctx context.Context, runID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Entry, len(entries))
	for i, entry := range entries {
		entry.ID = 0
		entry.RunID = runID
		rows[i] = entry
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&rows, 200).Error; err != nil {
		return fmt.Errorf("saving correlation entries for run %s: %w", runID, err)
	}
	return nil
}

// FindByAccession returns every entry that was uploaded under accession.
func (r *Repository) FindByAccession(ctx context.Context, accession string) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("new_accession = ?", accession).
		Order("id").
		Find(&entries).Error
	return entries, err
}
