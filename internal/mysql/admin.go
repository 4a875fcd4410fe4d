package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var setDriverLogger sync.Once

// Admin talks to a local server as the passwordless root account over TCP
type Admin struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdmin creates an administrative client. timeout bounds every individual
// query and connection attempt.
func NewAdmin(timeout time.Duration, logger *zap.Logger) *Admin {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mysql-admin")

	// The driver logs every refused connection while the server is still binding
	setDriverLogger.Do(func() {
		if std, err := zap.NewStdLogAt(logger, zap.DebugLevel); err == nil {
			_ = driver.SetLogger(std)
		}
	})

	return &Admin{timeout: timeout, logger: logger}
}

// DSN returns the connection string for the server on port
func (a *Admin) DSN(port int, database string) string {
	cfg := driver.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	cfg.DBName = database
	cfg.Timeout = a.timeout
	cfg.ReadTimeout = a.timeout
	cfg.WriteTimeout = a.timeout
	cfg.AllowNativePasswords = true
	return cfg.FormatDSN()
}

func (a *Admin) open(port int) (*sql.DB, error) {
	db, err := sql.Open("mysql", a.DSN(port, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(a.timeout)
	return db, nil
}

// Ping reports whether the server accepts connections and a trivial query
func (a *Admin) Ping(ctx context.Context, port int) error {
	db, err := a.open(port)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("server on port %d not ready: %w", port, err)
	}
	return nil
}

// CreateDatabase creates name if it does not exist
func (a *Admin) CreateDatabase(ctx context.Context, port int, name string) error {
	if name == "" || strings.ContainsAny(name, "`\x00") {
		return fmt.Errorf("invalid database name %q", name)
	}
	return a.Exec(ctx, port, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name))
}

// Exec runs a single statement
func (a *Admin) Exec(ctx context.Context, port int, statement string) error {
	db, err := a.open(port)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("statement failed on port %d: %w", port, err)
	}
	return nil
}

// Shutdown asks the server to stop. The server closes the connection while
// handling the statement, so only an error reported by the server itself
// counts as a failure.
func (a *Admin) Shutdown(ctx context.Context, port int) error {
	db, err := a.open(port)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("server on port %d unreachable for shutdown: %w", port, err)
	}

	_, err = db.ExecContext(ctx, "SHUTDOWN")
	if err == nil {
		return nil
	}

	var serverErr *driver.MySQLError
	if errors.As(err, &serverErr) {
		return fmt.Errorf("server on port %d rejected shutdown: %w", port, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.logger.Debug("Connection closed during shutdown", zap.Int("port", port), zap.Error(err))
	return nil
}
