package meta

import (
	"fmt"

	"fmeta-go/internal/model"
)

// EventFilter decides which gateway paths are ignored.
type EventFilter interface {
	Match(relativePath string) bool
}

// MetaService is the metadata core: it owns the file/folder graph, the version
// ledger, guid identity, trash and move reconciliation, and coordinates the
// database, gateway, archive vault and encryptor behind them.
type MetaService struct {
	database  Database
	gateway   Gateway
	vault     Vault
	encryptor Encryptor
	registry  *Registry
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	filter    EventFilter
}

// NewMetaService creates a MetaService with the provided dependencies.
// gateway, vault and encryptor may be nil; operations that need them fail.
func NewMetaService(database Database, gateway Gateway, vault Vault, encryptor Encryptor, registry *Registry, logger Logger, clock Clock, idgen IDGenerator) *MetaService {
	return &MetaService{
		database:  database,
		gateway:   gateway,
		vault:     vault,
		encryptor: encryptor,
		registry:  registry,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// SetEventFilter installs a filter applied by HandleEvent.
func (s *MetaService) SetEventFilter(f EventFilter) {
	s.filter = f
}

// Registry returns the provider registry the service dispatches on.
func (s *MetaService) Registry() *Registry {
	return s.registry
}

// GetHistory returns the most recent operations, newest first.
func (s *MetaService) GetHistory(limit int) ([]*model.Operation, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *MetaService) provider(name string) (*Provider, error) {
	p, ok := s.registry.Provider(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}
