package models

import "github.com/google/uuid"

// QueryID identifies one query's execution scope.
// It is used only as a cache key and never interpreted.
type QueryID string

// NoQuery is passed by callers that are not running inside a query
// (background refreshers, admin tooling). Such callers bypass the
// query-scoped cache.
const NoQuery QueryID = ""

// NewQueryID returns a fresh random query id.
func NewQueryID() QueryID {
	return QueryID(uuid.NewString())
}

// InQuery reports whether the id denotes a query scope.
func (q QueryID) InQuery() bool {
	return q != NoQuery
}

func (q QueryID) String() string {
	return string(q)
}
