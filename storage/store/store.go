// Package store defines the contract of the external document database the
// app delegates persistence and live-query synchronization to. Backends live
// in sub-packages; the app never talks to a concrete backend directly.
package store

import (
	"context"
	"errors"
)

// Collections used by the app.
const (
	Users         = "users"
	Courses       = "courses"
	CourseMembers = "courseMembers"
	Tasks         = "tasks"
	PendingOps    = "pendingOps"
)

var (
	// ErrNotFound is returned by Get when no document has the given id.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyInFilter is returned when a query carries an In filter with no
	// values. Backends reject such queries; callers must special-case the
	// empty set instead of issuing one.
	ErrEmptyInFilter = errors.New("in filter requires at least one value")
)

// Fields is the schemaless payload of a document. Optional attributes are
// omitted from the map entirely, never written as zero values.
type Fields map[string]interface{}

// Document is a stored record with its backend-assigned or explicit id.
type Document struct {
	ID   string
	Data Fields
}

// FilterOp is a query operator supported by every backend.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpIn
)

type Filter struct {
	Field  string
	Op     FilterOp
	Value  interface{}
	Values []string
}

// Query selects documents of one collection by conjunction of filters.
type Query struct {
	Collection string
	filters    []Filter
}

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Where adds an equality filter.
func (q Query) Where(field string, value interface{}) Query {
	q.filters = append(q.filters, Filter{Field: field, Op: OpEq, Value: value})
	return q
}

// WhereIn adds a "field value in list" filter.
func (q Query) WhereIn(field string, values []string) Query {
	q.filters = append(q.filters, Filter{Field: field, Op: OpIn, Values: values})
	return q
}

// Filters exposes the filter conjunction to backends.
func (q Query) Filters() []Filter {
	return q.filters
}

// ValidateQuery rejects queries no backend can serve, notably In filters over
// an empty list.
func ValidateQuery(q Query) error {
	for _, f := range q.filters {
		if f.Op == OpIn && len(f.Values) == 0 {
			return ErrEmptyInFilter
		}
	}
	return nil
}

// Matches reports whether the document satisfies every filter.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.filters {
		switch f.Op {
		case OpEq:
			if doc.Data[f.Field] != f.Value {
				return false
			}
		case OpIn:
			s, ok := doc.Data[f.Field].(string)
			if !ok {
				return false
			}
			var found bool
			for _, v := range f.Values {
				if v == s {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

type (
	// Subscription is a live query: the backend pushes a full snapshot of the
	// matching documents whenever any of them changes. Unsubscribe is the only
	// cancellation primitive; after it returns, both channels are closed.
	Subscription interface {
		// Snapshots delivers the current matching set, starting with an
		// initial snapshot. Consecutive snapshots may be coalesced.
		Snapshots() <-chan []Document
		// Errors delivers at most one terminal subscription error.
		Errors() <-chan error
		Unsubscribe()
	}

	// Store is a document database with live-query subscriptions.
	Store interface {
		// Add creates a document with a backend-generated id.
		Add(ctx context.Context, collection string, data Fields) (string, error)
		// Set creates or overwrites the document with the given id.
		Set(ctx context.Context, collection, id string, data Fields) error
		// Update merges the given fields into an existing document.
		Update(ctx context.Context, collection, id string, data Fields) error
		Delete(ctx context.Context, collection, id string) error
		Get(ctx context.Context, collection, id string) (Document, error)
		GetAll(ctx context.Context, q Query) ([]Document, error)
		Subscribe(ctx context.Context, q Query) (Subscription, error)
		Close() error
	}
)
