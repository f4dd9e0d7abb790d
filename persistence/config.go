package persistence

import (
	"fmt"
)

// PersistenceType represents the type of persistence backend
type PersistenceType string

const (
	PersistenceMemory PersistenceType = "memory"
	PersistenceBolt   PersistenceType = "bolt"
	PersistenceBadger PersistenceType = "badger"
)

// PersistenceConfig holds configuration for persistence layers
type PersistenceConfig struct {
	// Type of persistence backend
	Type PersistenceType `json:"type" yaml:"type"`

	// Path to database directory/file; unused by the memory backend
	Path string `json:"path" yaml:"path"`

	// SyncWrites forces an fsync on every commit (badger only; bolt always
	// syncs on commit)
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`
}

// ValidateConfig checks that a persistence configuration is usable.
func ValidateConfig(config PersistenceConfig) error {
	switch config.Type {
	case PersistenceMemory:
		return nil
	case PersistenceBolt, PersistenceBadger:
		if config.Path == "" {
			return fmt.Errorf("persistence type %s requires a path", config.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported persistence type: %s", config.Type)
	}
}
