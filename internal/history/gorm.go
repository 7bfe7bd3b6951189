package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// runRecord is the persisted form of a run. Payload holds the full run as
// JSON; the other columns exist for listing and filtering.
type runRecord struct {
	ID                string    `gorm:"type:varchar(36);primaryKey"`
	Question          string    `gorm:"type:text;not null"`
	Dialect           string    `gorm:"type:varchar(32)"`
	State             string    `gorm:"type:varchar(16);index"`
	ErrorKind         string    `gorm:"type:varchar(32)"`
	SQL               string    `gorm:"column:sql_text;type:text"`
	RowCount          int       `gorm:"type:int"`
	GenerationRetries int       `gorm:"type:smallint"`
	ExecutionRetries  int       `gorm:"type:smallint"`
	StartedAt         time.Time `gorm:"type:datetime(3);index"`
	DurationMS        int64     `gorm:"type:bigint"`
	Payload           string    `gorm:"type:longtext"`
}

func (runRecord) TableName() string {
	return "text2sql_runs"
}

type GormConfig struct {
	Logger *slog.Logger
	DB     *gorm.DB
}

func (cfg *GormConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// GormStore persists runs in MySQL through GORM.
type GormStore struct {
	log *slog.Logger
	db  *gorm.DB
}

func NewGormStore(cfg GormConfig) (*GormStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GormStore{log: cfg.Logger, db: cfg.DB}, nil
}

// OpenMySQL connects to dsn and migrates the runs table.
func OpenMySQL(ctx context.Context, log *slog.Logger, dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history table: %w", err)
	}
	log.Info("history: connected to mysql")
	return NewGormStore(GormConfig{Logger: log, DB: db})
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Record(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	sum := Summarize(run)
	rec := runRecord{
		ID:                sum.ID,
		Question:          sum.Question,
		Dialect:           sum.Dialect,
		State:             string(sum.State),
		ErrorKind:         string(sum.ErrorKind),
		SQL:               sum.SQL,
		RowCount:          sum.RowCount,
		GenerationRetries: sum.GenerationRetries,
		ExecutionRetries:  sum.ExecutionRetries,
		StartedAt:         sum.StartedAt,
		DurationMS:        sum.DurationMS,
		Payload:           string(payload),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	s.log.Debug("history: recorded run", "run_id", run.ID, "state", run.State)
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	var run pipeline.Run
	if err := json.Unmarshal([]byte(rec.Payload), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

func (s *GormStore) List(ctx context.Context, limit int) ([]Summary, error) {
	q := s.db.WithContext(ctx).
		Omit("payload").
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []runRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Summary{
			ID:                rec.ID,
			Question:          rec.Question,
			Dialect:           rec.Dialect,
			State:             pipeline.State(rec.State),
			ErrorKind:         pipeline.ErrorKind(rec.ErrorKind),
			SQL:               rec.SQL,
			RowCount:          rec.RowCount,
			GenerationRetries: rec.GenerationRetries,
			ExecutionRetries:  rec.ExecutionRetries,
			StartedAt:         rec.StartedAt,
			DurationMS:        rec.DurationMS,
		})
	}
	return out, nil
}
