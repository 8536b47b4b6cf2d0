package stores

import (
	"fmt"

	"github.com/Desarso/tabchat/logger"
)

// NewStore creates a conversation store based on the configuration
func NewStore(config *StoreConfig, log *logger.Logger) (*ConversationStore, error) {
	if config == nil {
		return nil, fmt.Errorf("store config is nil")
	}
	switch config.Type {
	case "sqlite":
		return NewSQLiteStore(config, log)
	case "postgres":
		return NewPostgresStore(config, log)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// NewSQLiteStoreDefault creates a SQLite store with default settings
func NewSQLiteStoreDefault() (*ConversationStore, error) {
	return NewSQLiteStoreSimple("tabchat.sqlite")
}

// NewPostgresStoreDefault creates a PostgreSQL store from discrete connection settings.
func NewPostgresStoreDefault(host, user, password, dbname string, port int) (*ConversationStore, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return NewPostgresStoreSimple(dsn)
}
