// Package poison persists the sources whose retries ran out, so a restart or
// a repeated event does not feed the same broken file back into the
// pipeline. A record only blocks while the file is unchanged.
package poison

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// PoisonedFile is one exhausted source.
type PoisonedFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"uniqueIndex;not null" json:"path"`
	Size      int64     `gorm:"not null" json:"size"`
	ModTime   int64     `gorm:"not null" json:"mod_time"` // unix nanoseconds
	Attempts  int       `json:"attempts"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for PoisonedFile
func (PoisonedFile) TableName() string {
	return "poisoned_files"
}

// Store is the gorm-backed poison list.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// Open connects to the configured backend and migrates the schema.
func Open(cfg config.PoisonConfig, logger hclog.Logger) (*Store, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "sqlite", "":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); mkErr != nil {
			return nil, fmt.Errorf("failed to create poison database directory: %w", mkErr)
		}
		db, err = gorm.Open(sqlite.Open(cfg.DatabasePath), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported poison database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to poison database: %w", err)
	}

	return NewStore(db, logger)
}

// NewStore wraps an existing connection and migrates the schema.
func NewStore(db *gorm.DB, logger hclog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&PoisonedFile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate poison schema: %w", err)
	}
	return &Store{db: db, logger: logger.Named("poison")}, nil
}

// Blocked reports whether path is recorded with the same size and
// modification time. A record for a file that has since changed is removed
// and the file is let through.
func (s *Store) Blocked(ctx context.Context, path string, size int64, modTime time.Time) (bool, error) {
	var rec PoisonedFile
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up poisoned file: %w", err)
	}

	if rec.Size == size && rec.ModTime == modTime.UnixNano() {
		return true, nil
	}

	if err := s.db.WithContext(ctx).Delete(&rec).Error; err != nil {
		return false, fmt.Errorf("failed to clear stale poison record: %w", err)
	}
	s.logger.Info("source changed since it was poisoned, clearing record", "path", path)
	return false, nil
}

// Add records path, replacing any earlier record for it.
func (s *Store) Add(ctx context.Context, path string, size int64, modTime time.Time, attempts int, reason string) error {
	rec := PoisonedFile{
		Path:     path,
		Size:     size,
		ModTime:  modTime.UnixNano(),
		Attempts: attempts,
		Reason:   reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"size", "mod_time", "attempts", "reason", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to record poisoned file: %w", err)
	}
	s.logger.Info("recorded poisoned source", "path", path, "attempts", attempts)
	return nil
}

// Remove deletes the record for path and reports whether one existed.
func (s *Store) Remove(ctx context.Context, path string) (bool, error) {
	res := s.db.WithContext(ctx).Where("path = ?", path).Delete(&PoisonedFile{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to remove poisoned file: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]PoisonedFile, error) {
	var files []PoisonedFile
	if err := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list poisoned files: %w", err)
	}
	return files, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
