package stores

import (
	"fmt"

	"github.com/Desarso/tabchat/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewPostgresStore creates a conversation store backed by PostgreSQL.
func NewPostgresStore(config *StoreConfig, log *logger.Logger) (*ConversationStore, error) {
	if config.Type != "postgres" {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	db, err := gorm.Open(postgres.Open(config.Connection), gormConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	return newConversationStore(db, "postgres", log)
}

// NewPostgresStoreSimple creates a new PostgreSQL store with just a DSN
func NewPostgresStoreSimple(dsn string) (*ConversationStore, error) {
	return NewPostgresStore(NewStoreConfig("postgres", dsn), nil)
}
