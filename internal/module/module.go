// Package module defines the contract every integration implements to plug
// into the sync engine: loading and saving local records, mapping them to and
// from Odoo field names, and declaring sync direction and dependencies.
// The engine consumes integrations exclusively through this interface and
// never branches on integration identity.
package module

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Record is a loaded local record: field name to value. The "id" field
// carries the local identity and is excluded from content hashing.
type Record map[string]any

// Fields is a set of remote (Odoo) field name to value pairs.
type Fields map[string]any

// SyncDirection declares which way records of an entity type may flow.
type SyncDirection int

const (
	DirectionPushOnly SyncDirection = iota
	DirectionPullOnly
	DirectionBidirectional
)

func (d SyncDirection) String() string {
	switch d {
	case DirectionPushOnly:
		return "push-only"
	case DirectionPullOnly:
		return "pull-only"
	case DirectionBidirectional:
		return "bidirectional"
	}
	return "unknown"
}

// Domain is a remote-side search filter in Odoo triple notation, e.g.
// [["email", "=", "a@b.c"]]. An empty domain means "always create".
type Domain [][]any

// Module is the contract between the sync core and one integration.
type Module interface {
	// Name returns the integration id, e.g. "shop" or "events"
	Name() string

	// GetSyncDirection declares the allowed flow for an entity type
	GetSyncDirection(entityType string) SyncDirection

	// LoadLocalData loads a local record; returns nil when the record is gone
	LoadLocalData(ctx context.Context, entityType string, localID int64) (Record, error)

	// MapToRemote converts a local record into Odoo field names
	MapToRemote(entityType string, record Record) (Fields, error)

	// MapFromRemote converts Odoo fields back into a local record
	MapFromRemote(entityType string, fields Fields) (Record, error)

	// SaveLocalData persists a record locally and returns its local id,
	// 0 on failure. localID is 0 when the record is new on the local side.
	SaveLocalData(ctx context.Context, entityType string, record Record, localID int64) (int64, error)

	// DeleteLocalData removes a local record
	DeleteLocalData(ctx context.Context, entityType string, localID int64) (bool, error)

	// GetDedupDomain returns the search filter used to find a pre-existing
	// remote record before creating one; empty means always create
	GetDedupDomain(entityType string, fields Fields) Domain

	// GetRemoteModel returns the Odoo model name for an entity type
	GetRemoteModel(entityType string) string

	// GetParentEntityType returns the entity type this one depends on,
	// or "" when there is no parent
	GetParentEntityType(entityType string) string

	// GetParentLocalID returns the parent's local id for a child record
	GetParentLocalID(ctx context.Context, entityType string, localID int64) (int64, error)
}

// DualModel is implemented by integrations whose target schema depends on
// optional remote modules: when the model from GetRemoteModel does not exist
// on the remote side, the engine falls back to the generic model.
type DualModel interface {
	GetFallbackModel(entityType string) string
}

// Localized is implemented by integrations with locale-variant fields. The
// returned map is language code to the fields that differ in that locale;
// the engine pushes each set with the corresponding Odoo language context.
type Localized interface {
	LocalizedFields(entityType string, record Record) map[string]Fields
}

// Registry resolves integration ids to their Module implementation.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module; registering the same name twice is a programming error
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.Name()]; exists {
		return fmt.Errorf("module %q already registered", m.Name())
	}
	r.modules[m.Name()] = m
	return nil
}

// Resolve returns the module for an integration id
func (r *Registry) Resolve(integration string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[integration]
	if !ok {
		return nil, fmt.Errorf("no module registered for integration %q", integration)
	}
	return m, nil
}

// Names returns the registered integration ids in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
