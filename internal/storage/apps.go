package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/ports"
)

// ErrAppNotFound is returned when no app row exists for an id
var ErrAppNotFound = errors.New("app not found")

// App is one registered app and the ports its last instance used
type App struct {
	ID        string      `json:"id"`
	Path      string      `json:"path"`
	Type      string      `json:"type"`
	Ports     *ports.Pair `json:"ports,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AppStore persists apps and their port allocations
type AppStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAppStore creates an app store on an initialized database
func NewAppStore(db *sql.DB, logger *zap.Logger) *AppStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppStore{
		db:     db,
		logger: logger.Named("apps"),
	}
}

// RegisterApp inserts an app or updates its path and type
func (s *AppStore) RegisterApp(ctx context.Context, id, path, appType string) error {
	if appType == "" {
		appType = "wordpress"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (id, path, type) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path, type = excluded.type, updated_at = CURRENT_TIMESTAMP
	`, id, path, appType)
	if err != nil {
		return fmt.Errorf("failed to register app %s: %w", id, err)
	}

	s.logger.Debug("App registered", zap.String("app_id", id), zap.String("path", path))
	return nil
}

// FindApp returns the app with id or ErrAppNotFound
func (s *AppStore) FindApp(ctx context.Context, id string) (*App, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, type, interpreter_port, database_port, created_at, updated_at
		FROM apps WHERE id = ?
	`, id)

	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load app %s: %w", id, err)
	}
	return app, nil
}

// UpdateAppPorts records the ports of a running instance. A nil pair clears them.
func (s *AppStore) UpdateAppPorts(ctx context.Context, id string, pair *ports.Pair) error {
	var interpreter, database sql.NullInt64
	if pair != nil {
		interpreter = sql.NullInt64{Int64: int64(pair.Interpreter), Valid: true}
		database = sql.NullInt64{Int64: int64(pair.Database), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE apps SET interpreter_port = ?, database_port = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, interpreter, database, id)
	if err != nil {
		return fmt.Errorf("failed to update ports for app %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAppNotFound
	}
	return nil
}

// ListApps returns every registered app ordered by id
func (s *AppStore) ListApps(ctx context.Context) ([]App, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, type, interpreter_port, database_port, created_at, updated_at
		FROM apps ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			s.logger.Error("Failed to scan app row", zap.Error(err))
			continue
		}
		apps = append(apps, *app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating app rows: %w", err)
	}
	return apps, nil
}

// DeleteApp removes an app row. Deleting an unknown app is not an error.
func (s *AppStore) DeleteApp(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete app %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApp(row rowScanner) (*App, error) {
	var app App
	var interpreter, database sql.NullInt64

	err := row.Scan(&app.ID, &app.Path, &app.Type, &interpreter, &database, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if interpreter.Valid && database.Valid {
		app.Ports = &ports.Pair{
			Interpreter: int(interpreter.Int64),
			Database:    int(database.Int64),
		}
	}
	return &app, nil
}
