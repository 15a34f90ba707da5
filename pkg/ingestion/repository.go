package ingestion

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("ingestion record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

func (r *Repository) Create(ctx context.Context, rec *Record) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"updated_at":   now,
			"last_attempt": now,
		}).Error
}

func (r *Repository) IncrementRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}

// Recent lists the newest rows in the given statuses.
func (r *Repository) Recent(ctx context.Context, statuses []string, limit int) ([]Record, error) {
	var rows []Record
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountByStatus counts rows updated within window, per status.
func (r *Repository) CountByStatus(ctx context.Context, window time.Duration) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&Record{}).
		Select("status, COUNT(*) AS count").
		Where("updated_at > ?", time.Now().UTC().Add(-window)).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *Repository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{}).Error
}
