package stores

import (
	"fmt"

	"github.com/Desarso/tabchat/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewSQLiteStore creates a conversation store backed by a SQLite file.
func NewSQLiteStore(config *StoreConfig, log *logger.Logger) (*ConversationStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	db, err := gorm.Open(sqlite.Open(config.Connection), gormConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return newConversationStore(db, "sqlite", log)
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*ConversationStore, error) {
	return NewSQLiteStore(NewStoreConfig("sqlite", dbPath), nil)
}

// gormConfig maps the "log_level" option onto GORM's logger. Unset means warnings only.
func gormConfig(config *StoreConfig) *gorm.Config {
	level := gormlogger.Warn
	switch config.Options["log_level"] {
	case "silent":
		level = gormlogger.Silent
	case "error":
		level = gormlogger.Error
	case "info":
		level = gormlogger.Info
	}
	return &gorm.Config{Logger: gormlogger.Default.LogMode(level)}
}
