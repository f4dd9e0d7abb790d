package persistence

import (
	"fmt"

	"github.com/synapselabs/partnermatch/core"
)

// DefaultFactory creates persistence instances from configuration.
type DefaultFactory struct{}

// NewDefaultFactory creates a new default persistence factory
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{}
}

// CreatePersistence creates a persistence instance based on configuration
func (f *DefaultFactory) CreatePersistence(config PersistenceConfig) (core.Persistence, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid persistence configuration: %w", err)
	}

	switch config.Type {
	case PersistenceMemory:
		return NewMemoryPersistence(), nil

	case PersistenceBolt:
		return NewBoltPersistence(config.Path)

	case PersistenceBadger:
		return NewBadgerPersistence(config.Path, config.SyncWrites)

	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", config.Type)
	}
}
