package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := newGormLogger(log)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the batch_results table
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(&BatchResult{})
}

// ProcessedAddresses returns every address that already has a recorded result
func (db *DB) ProcessedAddresses(ctx context.Context) (map[string]struct{}, error) {
	start := time.Now()
	var addresses []string
	result := db.conn.WithContext(ctx).Model(&BatchResult{}).Pluck("address", &addresses)
	metrics.RecordDatabaseQuery("processed_addresses", time.Since(start), result.Error)
	if result.Error != nil {
		return nil, result.Error
	}

	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		seen[ledger.NormalizeAddress(a)] = struct{}{}
	}
	return seen, nil
}

// SaveResult records the score for address, replacing an earlier one
func (db *DB) SaveResult(ctx context.Context, address, score string) error {
	start := time.Now()
	row := BatchResult{
		Address: ledger.NormalizeAddress(address),
		Score:   score,
	}
	result := upsert(db.conn.WithContext(ctx), &row)
	metrics.RecordDatabaseQuery("save_result", time.Since(start), result.Error)
	return result.Error
}

func upsert(tx *gorm.DB, row *BatchResult) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"score": row.Score, "updated_ts": time.Now().Unix()}),
	}).Create(row)
}

// Results returns all recorded results in insertion order
func (db *DB) Results(ctx context.Context) ([]BatchResult, error) {
	start := time.Now()
	var rows []BatchResult
	result := db.conn.WithContext(ctx).Order("id ASC").Find(&rows)
	metrics.RecordDatabaseQuery("results", time.Since(start), result.Error)
	return rows, result.Error
}

func newGormLogger(log *logrus.Logger) logger.Interface {
	return logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
