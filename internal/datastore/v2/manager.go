// Package v2 owns the alert engine's database connection and schema.
package v2

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

// DefaultDatabaseName is the sqlite file created inside DataDir.
const DefaultDatabaseName = "alertd.db"

// Config selects and configures the backing store.
type Config struct {
	// DataDir holds the sqlite file when Path is empty.
	DataDir string
	// Path is an explicit sqlite file path.
	Path string
	// DSN is the MySQL data source name.
	DSN string
	// Debug enables gorm SQL logging.
	Debug bool
}

// Manager wraps a gorm connection.
type Manager struct {
	db     *gorm.DB
	driver string
}

// Models lists every table the engine migrates.
func Models() []any {
	return []any{
		&entities.AlertRule{},
		&entities.AlertCondition{},
		&entities.AlertAction{},
		&entities.AlertRecord{},
		&entities.AlertNotifyLog{},
	}
}

func gormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// NewSQLiteManager opens (creating if needed) a sqlite database.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	path := cfg.Path
	if path == "" {
		if cfg.DataDir == "" {
			return nil, errors.Newf("sqlite requires a data directory or path").
				Component("datastore").
				Category(errors.CategoryConfiguration).
				Build()
		}
		path = filepath.Join(cfg.DataDir, DefaultDatabaseName)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY under the scan loop.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Manager{db: db, driver: "sqlite"}, nil
}

// NewMySQLManager connects to MySQL using cfg.DSN.
func NewMySQLManager(cfg Config) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, errors.Newf("mysql requires a DSN").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Manager{db: db, driver: "mysql"}, nil
}

// NewManager opens the store named by driver ("sqlite" or "mysql").
func NewManager(driver string, cfg Config) (*Manager, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteManager(cfg)
	case "mysql":
		return NewMySQLManager(cfg)
	default:
		return nil, errors.Newf("unsupported database driver %q", driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Initialize migrates the schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// DB returns the underlying gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns "sqlite" or "mysql".
func (m *Manager) Driver() string {
	return m.driver
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
