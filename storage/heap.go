package storage

import (
	"sort"

	"pgwireproxy/storage/index"
)

// tableHeap holds the in-memory row data for a single table, plus the
// primary-key index built over it.
// It is populated during WAL replay and modified by engine operations.
type tableHeap struct {
	def    TableDef
	rows   map[int64][]any // rowID → column values
	nextID int64           // next ID to assign on insert

	pkCol int         // ordinal of the PK column, or -1
	pkIdx index.Index // nil if the table has no primary key
}

func newTableHeap(def TableDef) *tableHeap {
	h := &tableHeap{
		def:    def,
		rows:   make(map[int64][]any),
		nextID: 1,
		pkCol:  def.PrimaryKeyColumn(),
	}
	if h.pkCol >= 0 {
		h.pkIdx = index.NewBTree(CompareValues)
	}
	return h
}

// allocateID reserves and returns the next row ID.
func (h *tableHeap) allocateID() int64 {
	id := h.nextID
	h.nextID++
	return id
}

// indexPut inserts a row's primary-key value into the PK index, if the
// table has one.
func (h *tableHeap) indexPut(id int64, values []any) error {
	if h.pkCol < 0 {
		return nil
	}
	key := RowValue(values, h.pkCol)
	if key == nil {
		return &UniqueViolationError{Table: h.def.Name, Column: h.columnNameByOrdinal(h.pkCol)}
	}
	if !h.pkIdx.Put(key, id) {
		return &UniqueViolationError{Table: h.def.Name, Column: h.columnNameByOrdinal(h.pkCol), Value: key}
	}
	return nil
}

// indexRemove removes a row's primary-key value from the PK index.
func (h *tableHeap) indexRemove(id int64, values []any) {
	if h.pkCol < 0 {
		return
	}
	if key := RowValue(values, h.pkCol); key != nil {
		h.pkIdx.Delete(key)
	}
}

// columnNameByOrdinal returns the name of the column with the given
// ordinal, or "" if none matches.
func (h *tableHeap) columnNameByOrdinal(ordinal int) string {
	for _, col := range h.def.Columns {
		if col.Ordinal == ordinal {
			return col.Name
		}
	}
	return ""
}

// insertWithID stores a row with a specific ID (used by both live inserts
// and WAL replay), maintaining the PK index.
func (h *tableHeap) insertWithID(id int64, values []any) error {
	row := make([]any, len(values))
	copy(row, values)

	if err := h.indexPut(id, row); err != nil {
		return err
	}

	h.rows[id] = row
	if id >= h.nextID {
		h.nextID = id + 1
	}
	return nil
}

// deleteRows removes the rows with the given IDs, cleaning up the PK index.
func (h *tableHeap) deleteRows(ids []int64) {
	for _, id := range ids {
		if row, ok := h.rows[id]; ok {
			h.indexRemove(id, row)
			delete(h.rows, id)
		}
	}
}

// updateRow replaces the values for a given row ID, re-indexing it.
func (h *tableHeap) updateRow(id int64, values []any) error {
	old, ok := h.rows[id]
	if !ok {
		return nil
	}

	row := make([]any, len(values))
	copy(row, values)

	h.indexRemove(id, old)
	if err := h.indexPut(id, row); err != nil {
		// Restore the old indexing before reporting failure.
		h.indexPut(id, old)
		return err
	}
	h.rows[id] = row
	return nil
}

// lookupByPK returns the row whose primary-key column equals value.
func (h *tableHeap) lookupByPK(value any) (Row, bool) {
	if h.pkIdx == nil {
		return Row{}, false
	}
	id, ok := h.pkIdx.Get(value)
	if !ok {
		return Row{}, false
	}
	values, ok := h.rows[id]
	if !ok {
		return Row{}, false
	}
	return Row{ID: id, Values: values}, true
}

// scan returns a RowIterator over all rows in the table, in row-ID
// (insertion) order.
func (h *tableHeap) scan() RowIterator {
	rows := make([]Row, 0, len(h.rows))
	for id, values := range h.rows {
		rows = append(rows, Row{ID: id, Values: values})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return &sliceIterator{rows: rows}
}

// columnIndex returns the permanent ordinal of the named column, or -1.
// Row values are addressed by ordinal, not by current slice position, so
// this must never return a Columns-slice index.
func (h *tableHeap) columnIndex(name string) int {
	for _, col := range h.def.Columns {
		if col.Name == name {
			return col.Ordinal
		}
	}
	return -1
}

// sliceIterator is a RowIterator backed by an in-memory slice.
type sliceIterator struct {
	rows []Row
	pos  int
}

func (it *sliceIterator) Next() (Row, bool) {
	if it.pos >= len(it.rows) {
		return Row{}, false
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true
}

func (it *sliceIterator) Close() error { return nil }
