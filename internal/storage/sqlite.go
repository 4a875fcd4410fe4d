package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/config"
)

// PoolConfig contains connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLiteStorage owns the registry database: the apps table and the events table
type SQLiteStorage struct {
	config config.StorageConfig
	logger *zap.Logger
	db     *sql.DB
	mu     sync.RWMutex

	cleanupTicker *time.Ticker
	done          chan struct{}
	running       bool

	apps   *AppStore
	events *EventStorage
}

// openDatabase opens the SQLite file with WAL journaling and a busy timeout so
// concurrent start/stop calls do not fail with SQLITE_BUSY.
func openDatabase(databasePath string, poolConfig PoolConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=10000&_synchronous=NORMAL", databasePath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(poolConfig.MaxOpenConns)
	db.SetMaxIdleConns(poolConfig.MaxIdleConns)
	db.SetConnMaxLifetime(poolConfig.ConnMaxLifetime)
	db.SetConnMaxIdleTime(poolConfig.ConnMaxIdleTime)

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the registry database
func NewSQLiteStorage(cfg config.StorageConfig, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	if cfg.DatabasePath == ":memory:" {
		// Every connection to :memory: is a separate database
		maxOpen = 1
	}

	poolConfig := PoolConfig{
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxOpen,
		ConnMaxLifetime: 2 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	db, err := openDatabase(cfg.DatabasePath, poolConfig)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.apps = NewAppStore(db, logger)
	s.events = NewEventStorage(db, logger)

	logger.Info("Registry database opened",
		zap.String("database_path", cfg.DatabasePath),
		zap.Int("max_open_conns", poolConfig.MaxOpenConns))

	return s, nil
}

// Start launches the event retention loop
func (s *SQLiteStorage) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("storage is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.cleanupTicker = time.NewTicker(time.Hour)
	s.mu.Unlock()

	s.logger.Info("Starting SQLite storage backend",
		zap.String("database_path", s.config.DatabasePath),
		zap.Duration("event_retention", s.config.EventRetention))

	go s.cleanupLoop(ctx)

	return nil
}

// Stop ends background work and closes the database
func (s *SQLiteStorage) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.running = false
		s.cleanupTicker.Stop()
		close(s.done)
	}
	s.mu.Unlock()

	s.logger.Info("Stopping SQLite storage backend")
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Apps returns the app registry backed by this database
func (s *SQLiteStorage) Apps() *AppStore {
	return s.apps
}

// Events returns the event store backed by this database
func (s *SQLiteStorage) Events() *EventStorage {
	return s.events
}

// Cleanup removes events older than the configured retention
func (s *SQLiteStorage) Cleanup(ctx context.Context) error {
	if s.config.EventRetention <= 0 {
		return nil
	}
	if _, err := s.events.CleanupOldEvents(ctx, s.config.EventRetention); err != nil {
		return err
	}
	return nil
}

// initSchema creates the database schema
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS apps (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'wordpress',
		interpreter_port INTEGER,
		database_port INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_apps_path ON apps(path);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		app_id TEXT,
		summary TEXT NOT NULL,
		details TEXT NOT NULL, -- JSON blob
		correlation_id TEXT,
		severity TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_app_id ON events(app_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_app_timestamp ON events(app_id, timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	s.logger.Debug("Database schema initialized")
	return nil
}

// cleanupLoop runs periodic cleanup
func (s *SQLiteStorage) cleanupLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.cleanupTicker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Error("Failed to cleanup old events", zap.Error(err))
			}
		}
	}
}
