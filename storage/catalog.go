package storage

import "fmt"

// catalog manages table schemas in memory. It is rebuilt from the WAL
// on startup — there is no separate catalog file.
type catalog struct {
	tables map[string]*TableDef
}

func newCatalog() *catalog {
	return &catalog{tables: make(map[string]*TableDef)}
}

func (c *catalog) createTable(name string, columns []ColumnDef) error {
	if _, exists := c.tables[name]; exists {
		return &TableExistsError{Name: name}
	}
	next := 0
	for _, col := range columns {
		if col.Ordinal+1 > next {
			next = col.Ordinal + 1
		}
	}
	c.tables[name] = &TableDef{Name: name, Columns: columns, NextOrdinal: next}
	return nil
}

// addColumn appends a new column to the table's schema, assigning it the
// table's next available ordinal.
func (c *catalog) addColumn(table string, col ColumnDef) (ColumnDef, error) {
	def, ok := c.tables[table]
	if !ok {
		return ColumnDef{}, &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Columns {
		if existing.Name == col.Name {
			return ColumnDef{}, &ColumnExistsError{Column: col.Name, Table: table}
		}
	}
	def.Columns = append(def.Columns, col)
	if col.Ordinal+1 > def.NextOrdinal {
		def.NextOrdinal = col.Ordinal + 1
	}
	return col, nil
}

// dropColumn removes a column from the table's schema by name. Ordinals of
// the remaining columns are left untouched — they are never reused.
func (c *catalog) dropColumn(table string, colName string) error {
	def, ok := c.tables[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	idx := -1
	for i, col := range def.Columns {
		if col.Name == colName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &ColumnNotFoundError{Column: colName, Table: table}
	}
	if len(def.Columns) == 1 {
		return fmt.Errorf("cannot drop column %q: table %q must have at least one column", colName, table)
	}
	if def.Columns[idx].PrimaryKey {
		return fmt.Errorf("cannot drop column %q: it is the primary key of table %q", colName, table)
	}
	def.Columns = append(def.Columns[:idx:idx], def.Columns[idx+1:]...)
	return nil
}

func (c *catalog) dropTable(name string) error {
	if _, exists := c.tables[name]; !exists {
		return &TableNotFoundError{Name: name}
	}
	delete(c.tables, name)
	return nil
}

func (c *catalog) getTable(name string) (*TableDef, bool) {
	def, ok := c.tables[name]
	return def, ok
}
