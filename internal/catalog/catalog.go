// Package catalog is the minimal external collaborator the buffer pool,
// B+ tree, and lock manager need from a real catalog: a table name's oid
// (for lock-manager resource ids) and an index's root page id (for
// reopening a BPlusTree across restarts). It is grounded on DaemonDB's
// storage_engine/catalog.CatalogManager — same map-plus-JSON-persistence
// shape — trimmed to the two lookups the in-scope subsystems actually
// call; schema, DDL, and row-format metadata stay out of scope.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dbcore/internal/page"
)

var ErrTableExists = fmt.Errorf("catalog: table already registered")
var ErrTableNotFound = fmt.Errorf("catalog: table not found")
var ErrIndexExists = fmt.Errorf("catalog: index already registered")
var ErrIndexNotFound = fmt.Errorf("catalog: index not found")

// tableEntry is the on-disk/in-memory record for one registered table.
type tableEntry struct {
	OID     int64                  `json:"oid"`
	Indexes map[string]indexEntry  `json:"indexes"`
}

type indexEntry struct {
	RootPageID int64 `json:"root_page_id"`
}

// Catalog maps table names to oids and, per table, index names to B+ tree
// root page ids. It is safe for concurrent use, as DaemonDB's
// CatalogManager assumes under its single-process REPL but never states
// explicitly; here the guard is an actual sync.RWMutex rather than an
// implicit single-goroutine assumption.
type Catalog struct {
	mu sync.RWMutex

	persistPath string
	nextOID     int64
	tables      map[string]*tableEntry
	logger      zerolog.Logger
}

// New builds an empty in-memory catalog. If persistPath is non-empty,
// Load/Save read and write it as a single JSON document, mirroring
// DaemonDB's persistSchema/PersistTableMapping pair but collapsed to one
// file since there is no per-table schema to keep separate.
func New(persistPath string) *Catalog {
	return &Catalog{
		persistPath: persistPath,
		nextOID:     1,
		tables:      make(map[string]*tableEntry),
		logger:      log.With().Str("component", "catalog").Logger(),
	}
}

func (c *Catalog) WithLogger(l zerolog.Logger) *Catalog {
	c.logger = l
	return c
}

// CreateTable registers a new table and returns its oid.
func (c *Catalog) CreateTable(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	oid := c.nextOID
	c.nextOID++
	c.tables[name] = &tableEntry{OID: oid, Indexes: make(map[string]indexEntry)}
	c.logger.Debug().Str("table", name).Int64("oid", oid).Msg("table registered")
	return oid, nil
}

// DropTable removes a table and every index registered under it.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	delete(c.tables, name)
	c.logger.Debug().Str("table", name).Msg("table dropped")
	return nil
}

// TableID returns the oid registered for name, the lookup the lock
// manager needs to build a ResourceID for a table-granularity lock.
func (c *Catalog) TableID(name string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.tables[name]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return e.OID, nil
}

// TableExists reports whether name is registered.
func (c *Catalog) TableExists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.tables[name]
	return exists
}

// CreateIndex records indexName's root page for table, which must already
// exist. Reopening an existing BPlusTree across a process restart goes
// through IndexRoot, not through the Tree constructor.
func (c *Catalog) CreateIndex(table, indexName string, root page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.tables[table]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if _, exists := e.Indexes[indexName]; exists {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, table, indexName)
	}
	e.Indexes[indexName] = indexEntry{RootPageID: int64(root)}
	c.logger.Debug().Str("table", table).Str("index", indexName).Int64("root", int64(root)).Msg("index registered")
	return nil
}

// UpdateIndexRoot overwrites an already-registered index's root page id.
// A bplustree.Tree records its own root changes in its header page, so
// the tree never calls this.
func (c *Catalog) UpdateIndexRoot(table, indexName string, root page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.tables[table]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	ie, exists := e.Indexes[indexName]
	if !exists {
		return fmt.Errorf("%w: %s.%s", ErrIndexNotFound, table, indexName)
	}
	ie.RootPageID = int64(root)
	e.Indexes[indexName] = ie
	return nil
}

// IndexRoot returns the root page id a BPlusTree should reopen with.
func (c *Catalog) IndexRoot(table, indexName string) (page.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.tables[table]
	if !exists {
		return page.InvalidID, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	ie, exists := e.Indexes[indexName]
	if !exists {
		return page.InvalidID, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, table, indexName)
	}
	return page.ID(ie.RootPageID), nil
}

// Tables returns the names of every registered table, in no particular
// order, for callers that need to enumerate the catalog (e.g. reopening
// every index at startup).
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// Indexes returns the names of every index registered under table.
func (c *Catalog) Indexes(table string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.tables[table]
	if !exists {
		return nil
	}
	names := make([]string, 0, len(e.Indexes))
	for name := range e.Indexes {
		names = append(names, name)
	}
	return names
}

// persistedState is the JSON document written by Save and read by Load.
type persistedState struct {
	NextOID int64                  `json:"next_oid"`
	Tables  map[string]*tableEntry `json:"tables"`
}

// Save writes the full catalog to persistPath, creating its parent
// directory if needed, following DaemonDB's os.MkdirAll-then-WriteFile
// pattern for metadata persistence.
func (c *Catalog) Save() error {
	if c.persistPath == "" {
		return nil
	}

	c.mu.RLock()
	state := persistedState{NextOID: c.nextOID, Tables: c.tables}
	data, err := json.MarshalIndent(state, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("catalog: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.persistPath), 0755); err != nil {
		return fmt.Errorf("catalog: mkdir: %w", err)
	}
	if err := os.WriteFile(c.persistPath, data, 0644); err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	return nil
}

// Load replaces the in-memory catalog with the contents of persistPath.
// A missing file is not an error: a fresh catalog starts empty.
func (c *Catalog) Load() error {
	if c.persistPath == "" {
		return nil
	}

	data, err := os.ReadFile(c.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("catalog: unmarshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextOID = state.NextOID
	c.tables = state.Tables
	if c.tables == nil {
		c.tables = make(map[string]*tableEntry)
	}
	for _, e := range c.tables {
		if e.Indexes == nil {
			e.Indexes = make(map[string]indexEntry)
		}
	}
	return nil
}
