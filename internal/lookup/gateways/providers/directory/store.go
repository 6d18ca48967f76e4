package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
)

// ErrNotFound is returned when a number has no directory entry.
var ErrNotFound = errors.New("caller not found")

// Store is the sqlite-backed caller directory. It also maps contacts to their
// phone numbers for the block helpers.
type Store struct {
	db *gorm.DB
}

// gormWriter routes GORM's own logging through the structured logger.
type gormWriter struct {
	l log.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.l.Warn(map[string]any{"component": "gorm"}, fmt.Sprintf(format, args...))
}

// Open opens (or creates) the directory database at path and migrates the
// schema. A nil logger silences GORM.
func Open(path string, l log.Logger) (*Store, error) {
	var gormLog logger.Interface
	if l != nil {
		gormLog = logger.New(gormWriter{l: l}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		})
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	// pure Go sqlite driver, no cgo
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection so the PRAGMAs below hold for every query
	sqlDB.SetMaxOpenConns(1)
	if err := configureSQLite(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configure directory: %w", err)
	}
	if err := db.AutoMigrate(&Caller{}, &ContactNumber{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate directory: %w", err)
	}
	return &Store{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// FindCaller returns the entry for number or ErrNotFound.
func (s *Store) FindCaller(ctx context.Context, number string) (*Caller, error) {
	var c Caller
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCaller creates or replaces the entry for c.Number.
func (s *Store) UpsertCaller(ctx context.Context, c *Caller) error {
	if c == nil {
		return fmt.Errorf("caller cannot be nil")
	}
	c.SanitizeFields()
	if c.Number == "" {
		return fmt.Errorf("caller number is required")
	}
	c.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(c).Error
}

// AdjustSpamCount adds delta to the spam count of number, creating the entry
// when needed. The count never drops below zero.
func (s *Store) AdjustSpamCount(ctx context.Context, number string, delta int) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Caller
		err := tx.Where("number = ?", number).First(&c).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if delta <= 0 {
				return nil
			}
			c = Caller{Number: number, SpamCount: delta, UpdatedAt: time.Now()}
			count = delta
			return tx.Create(&c).Error
		case err != nil:
			return err
		}
		count = max(c.SpamCount+delta, 0)
		return tx.Model(&c).Updates(map[string]any{
			"spam_count": count,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("adjust spam count %s: %w", number, err)
	}
	return count, nil
}

// Count returns the number of directory entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Caller{}).Count(&count).Error
	return count, err
}

// AddContactNumber links number to contactID.
func (s *Store) AddContactNumber(ctx context.Context, contactID int64, number string) error {
	return s.db.WithContext(ctx).Create(&ContactNumber{ContactID: contactID, Number: number}).Error
}

// ContactNumbers returns every number linked to contactID in insertion order.
func (s *Store) ContactNumbers(ctx context.Context, contactID int64) ([]string, error) {
	var numbers []string
	err := s.db.WithContext(ctx).Model(&ContactNumber{}).
		Where("contact_id = ?", contactID).
		Order("id ASC").
		Pluck("number", &numbers).Error
	if err != nil {
		return nil, fmt.Errorf("contact %d numbers: %w", contactID, err)
	}
	return numbers, nil
}

// Health checks the database connection.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
