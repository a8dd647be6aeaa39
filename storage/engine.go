package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pgwireproxy/deepsize"
)

// engine is the concrete storage engine implementation. It writes every
// mutation to the WAL before applying it to the in-memory heap. On startup
// the WAL is replayed to reconstruct the full in-memory state.
//
// Concurrency: a sync.RWMutex provides single-writer / multi-reader
// access. Write operations take the write lock; read operations take the
// read lock. Scan returns a snapshot iterator that is safe to use after
// the lock is released.
type engine struct {
	mu      sync.RWMutex
	catalog *catalog
	heaps   map[string]*tableHeap
	wal     *WAL
}

// Open creates or opens a storage engine rooted at dataDir. It replays
// the WAL to restore state from a previous run and returns a ready-to-use
// Engine. If the WAL file needs migration and migrate is false, a
// WALMigrationNeededError is returned.
func Open(dataDir string, migrate bool) (Engine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	walPath := filepath.Join(dataDir, "wal.dat")
	wal, err := OpenWAL(walPath, migrate)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	e := &engine{
		catalog: newCatalog(),
		heaps:   make(map[string]*tableHeap),
		wal:     wal,
	}

	if err := wal.Replay(e); err != nil {
		wal.Close()
		return nil, fmt.Errorf("replay WAL: %w", err)
	}

	return e, nil
}

// Close closes the WAL file.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wal.Close()
}

// -------------------------------------------------------------------------
// ReplayHandler — used during WAL replay to rebuild in-memory state
// -------------------------------------------------------------------------

func (e *engine) OnCreateTable(name string, columns []ColumnDef) error {
	if err := e.catalog.createTable(name, columns); err != nil {
		return err
	}
	e.heaps[name] = newTableHeap(*e.catalog.tables[name])
	return nil
}

func (e *engine) OnDropTable(name string) error {
	if err := e.catalog.dropTable(name); err != nil {
		return err
	}
	delete(e.heaps, name)
	return nil
}

func (e *engine) OnAddColumn(table string, col ColumnDef) error {
	// A newly added column is never a primary key: every existing row would
	// need a value for it, which ADD COLUMN cannot supply retroactively.
	col.PrimaryKey = false
	if _, err := e.catalog.addColumn(table, col); err != nil {
		return err
	}
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	heap.def = *e.catalog.tables[table]
	return nil
}

func (e *engine) OnDropColumn(table string, colName string) error {
	if err := e.catalog.dropColumn(table, colName); err != nil {
		return err
	}
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	heap.def = *e.catalog.tables[table]
	return nil
}

func (e *engine) OnInsert(table string, rowID int64, values []any) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	return heap.insertWithID(rowID, values)
}

func (e *engine) OnDelete(table string, rowIDs []int64) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	heap.deleteRows(rowIDs)
	return nil
}

func (e *engine) OnUpdate(table string, updates []rowUpdate) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, u := range updates {
		if err := heap.updateRow(u.RowID, u.Values); err != nil {
			return err
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Engine interface — WAL-first, then apply to memory
// -------------------------------------------------------------------------

func (e *engine) CreateTable(name string, columns []ColumnDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.catalog.getTable(name); exists {
		return &TableExistsError{Name: name}
	}
	columns = assignOrdinals(columns)
	if err := e.wal.WriteCreateTable(name, columns); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnCreateTable(name, columns)
}

// assignOrdinals returns a copy of columns with sequential ordinals
// 0..n-1, as produced by a fresh CREATE TABLE. WAL replay never calls this:
// it trusts the ordinals already encoded from a prior live assignment,
// which may have gaps left by an intervening DROP COLUMN.
func assignOrdinals(columns []ColumnDef) []ColumnDef {
	out := make([]ColumnDef, len(columns))
	for i, col := range columns {
		col.Ordinal = i
		out[i] = col
	}
	return out
}

func (e *engine) AddColumn(table string, col ColumnDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Columns {
		if existing.Name == col.Name {
			return &ColumnExistsError{Column: col.Name, Table: table}
		}
	}
	col.Ordinal = def.NextOrdinal
	col.PrimaryKey = false

	if col.NotNull {
		if heap, ok := e.heaps[table]; ok && len(heap.rows) > 0 {
			return &NotNullViolationError{Table: table, Column: col.Name}
		}
	}

	if err := e.wal.WriteAddColumn(table, col); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnAddColumn(table, col)
}

func (e *engine) DropColumn(table string, colName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	var target *ColumnDef
	for i := range def.Columns {
		if def.Columns[i].Name == colName {
			target = &def.Columns[i]
			break
		}
	}
	if target == nil {
		return &ColumnNotFoundError{Column: colName, Table: table}
	}
	if len(def.Columns) == 1 {
		return fmt.Errorf("cannot drop column %q: table %q must have at least one column", colName, table)
	}
	if target.PrimaryKey {
		return fmt.Errorf("cannot drop column %q: it is the primary key of table %q", colName, table)
	}

	if err := e.wal.WriteDropColumn(table, colName); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropColumn(table, colName)
}

func (e *engine) RowCount(table string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}
	return int64(len(heap.rows)), nil
}

// MemoryUsage reports the deep in-memory footprint of every table's row
// storage and indexes, backing the SHOW MEMORY statement.
func (e *engine) MemoryUsage() []TableMemoryUsage {
	e.mu.RLock()
	defer e.mu.RUnlock()

	usage := make([]TableMemoryUsage, 0, len(e.heaps))
	for name, heap := range e.heaps {
		tu := TableMemoryUsage{
			TableName: name,
			RowBytes:  deepsize.Of(heap.rows),
		}
		if heap.pkIdx != nil {
			tu.PKIndex = &IndexMemoryUsage{
				Type:  "primary",
				Name:  name + "_pkey",
				Bytes: deepsize.Of(heap.pkIdx),
			}
		}
		usage = append(usage, tu)
	}
	return usage
}

func (e *engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.getTable(name); !ok {
		return &TableNotFoundError{Name: name}
	}
	if err := e.wal.WriteDropTable(name); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropTable(name)
}

func (e *engine) GetTable(name string) (*TableDef, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.catalog.getTable(name)
}

func (e *engine) ListTables() []*TableDef {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*TableDef, 0, len(e.catalog.tables))
	for _, def := range e.catalog.tables {
		defs = append(defs, def)
	}
	return defs
}

func (e *engine) Insert(table string, columns []string, values [][]any) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	// Resolve all rows first so we can pre-validate PK uniqueness.
	resolvedRows := make([][]any, 0, len(values))
	for _, vals := range values {
		fullRow, err := e.resolveInsertRow(heap, columns, vals)
		if err != nil {
			return 0, err
		}
		resolvedRows = append(resolvedRows, fullRow)
	}

	// Pre-validate PK uniqueness for all rows before writing any WAL entries.
	if heap.pkCol >= 0 {
		pkColName := heap.columnNameByOrdinal(heap.pkCol)
		seen := make(map[any]bool, len(resolvedRows))
		for _, fullRow := range resolvedRows {
			key := RowValue(fullRow, heap.pkCol)
			if key == nil {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: pkColName,
				}
			}
			if seen[key] {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: pkColName,
					Value:  key,
				}
			}
			seen[key] = true
			if _, exists := heap.pkIdx.Get(key); exists {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: pkColName,
					Value:  key,
				}
			}
		}
	}

	var count int64
	for _, fullRow := range resolvedRows {
		id := heap.allocateID()
		if err := e.wal.WriteInsert(table, id, fullRow); err != nil {
			return count, fmt.Errorf("WAL: %w", err)
		}
		if err := heap.insertWithID(id, fullRow); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *engine) Scan(table string) (RowIterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return nil, &TableNotFoundError{Name: table}
	}
	return heap.scan(), nil
}

func (e *engine) Update(table string, sets map[string]any, filter func(Row) bool) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	var updates []rowUpdate
	for id, values := range heap.rows {
		row := Row{ID: id, Values: values}
		if filter != nil && !filter(row) {
			continue
		}
		width := heap.def.NextOrdinal
		if len(values) > width {
			width = len(values)
		}
		newValues := make([]any, width)
		copy(newValues, values)
		for colName, newVal := range sets {
			idx := heap.columnIndex(colName)
			if idx < 0 {
				return 0, &ColumnNotFoundError{Column: colName, Table: heap.def.Name}
			}
			newValues[idx] = newVal
		}
		if err := checkNotNull(&heap.def, newValues); err != nil {
			return 0, err
		}
		updates = append(updates, rowUpdate{RowID: id, Values: newValues})
	}

	if len(updates) == 0 {
		return 0, nil
	}

	// Pre-validate PK uniqueness before WAL write.
	if heap.pkCol >= 0 {
		pkColName := heap.columnNameByOrdinal(heap.pkCol)
		if _, changing := sets[pkColName]; changing {
			// Collect all row IDs being updated for fast lookup.
			updatingIDs := make(map[int64]bool, len(updates))
			for _, u := range updates {
				updatingIDs[u.RowID] = true
			}

			seen := make(map[any]bool, len(updates))
			for _, u := range updates {
				newKey := RowValue(u.Values, heap.pkCol)
				if newKey == nil {
					return 0, &UniqueViolationError{Table: table, Column: pkColName}
				}
				if seen[newKey] {
					return 0, &UniqueViolationError{Table: table, Column: pkColName, Value: newKey}
				}
				seen[newKey] = true
				// Check against existing rows that are NOT being updated.
				if existingID, found := heap.pkIdx.Get(newKey); found && !updatingIDs[existingID] {
					return 0, &UniqueViolationError{Table: table, Column: pkColName, Value: newKey}
				}
			}
		}
	}

	if err := e.wal.WriteUpdate(table, updates); err != nil {
		return 0, fmt.Errorf("WAL: %w", err)
	}
	for _, u := range updates {
		if err := heap.updateRow(u.RowID, u.Values); err != nil {
			return 0, err
		}
	}
	return int64(len(updates)), nil
}

func (e *engine) Delete(table string, filter func(Row) bool) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	var ids []int64
	for id, values := range heap.rows {
		row := Row{ID: id, Values: values}
		if filter != nil && !filter(row) {
			continue
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if err := e.wal.WriteDelete(table, ids); err != nil {
		return 0, fmt.Errorf("WAL: %w", err)
	}
	heap.deleteRows(ids)
	return int64(len(ids)), nil
}

func (e *engine) LookupByPK(table string, value any) (*Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return nil, &TableNotFoundError{Name: table}
	}
	row, ok := heap.lookupByPK(value)
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid data races.
	vals := make([]any, len(row.Values))
	copy(vals, row.Values)
	return &Row{ID: row.ID, Values: vals}, nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// resolveInsertRow maps named columns + values to a full row in column
// order, filling unspecified columns with nil (NULL). When columns is nil
// the values are used directly (must match the table width).
func (e *engine) resolveInsertRow(heap *tableHeap, columns []string, values []any) ([]any, error) {
	def := &heap.def
	width := def.NextOrdinal

	var row []any
	if columns == nil {
		if len(values) != len(def.Columns) {
			return nil, &ValueCountError{Expected: len(def.Columns), Got: len(values)}
		}
		row = make([]any, width)
		for i, col := range def.Columns {
			row[col.Ordinal] = values[i]
		}
	} else {
		row = make([]any, width)
		for i, colName := range columns {
			idx := heap.columnIndex(colName)
			if idx < 0 {
				return nil, &ColumnNotFoundError{Column: colName, Table: def.Name}
			}
			if i >= len(values) {
				return nil, &ValueCountError{Expected: len(columns), Got: len(values)}
			}
			row[idx] = values[i]
		}
	}

	if err := checkNotNull(def, row); err != nil {
		return nil, err
	}
	return row, nil
}

// checkNotNull returns a NotNullViolationError if any NOT NULL column of
// def holds a nil value in row.
func checkNotNull(def *TableDef, row []any) error {
	for _, col := range def.Columns {
		if col.NotNull && RowValue(row, col.Ordinal) == nil {
			return &NotNullViolationError{Table: def.Name, Column: col.Name}
		}
	}
	return nil
}
