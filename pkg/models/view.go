package models

import "sync"

// View is a derived table. Apart from its dependency set and validity,
// views are opaque to the federation layer.
type View struct {
	Table

	mu         sync.RWMutex
	definition string
	tableRefs  []TableName
	invalid    bool
	reason     string
}

// NewView creates a valid view over the given tables.
func NewView(db, name, definition string, refs []TableName) *View {
	v := &View{
		Table: Table{
			Name:        name,
			DBName:      db,
			CatalogName: InternalCatalog,
			Kind:        TableKindView,
		},
		definition: definition,
	}
	v.tableRefs = append(v.tableRefs, refs...)
	return v
}

// Definition returns the view's SQL text.
func (v *View) Definition() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.definition
}

// TableRefs returns a copy of the tables the view reads from.
func (v *View) TableRefs() []TableName {
	v.mu.RLock()
	defer v.mu.RUnlock()
	refs := make([]TableName, len(v.tableRefs))
	copy(refs, v.tableRefs)
	return refs
}

// SetInvalid marks the view unusable. There is no automatic recovery;
// only Redefine makes the view valid again.
func (v *View) SetInvalid(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalid = true
	v.reason = reason
}

// IsValid reports whether the view can be used.
func (v *View) IsValid() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.invalid
}

// InvalidReason returns why the view was invalidated, or "" if it is valid.
func (v *View) InvalidReason() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.reason
}

// Redefine replaces the view definition and makes the view valid.
func (v *View) Redefine(definition string, refs []TableName) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.definition = definition
	v.tableRefs = append(v.tableRefs[:0:0], refs...)
	v.invalid = false
	v.reason = ""
}
