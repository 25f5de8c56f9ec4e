package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/studysync/backend/storage/store"
)

// DB is an in-memory store.Store with live fan-out to open subscriptions.
// It mirrors the managed backend's contract exactly (deterministic-id upserts,
// partial updates, ErrEmptyInFilter) and is used in DEV mode and tests.
type DB struct {
	mu          sync.RWMutex
	collections map[string]map[string]store.Fields
	subs        map[*subscription]struct{}
	closed      bool
}

var _ store.Store = (*DB)(nil)

func NewDB() *DB {
	return &DB{
		collections: make(map[string]map[string]store.Fields),
		subs:        make(map[*subscription]struct{}),
	}
}

func (db *DB) table(collection string) map[string]store.Fields {
	tbl, ok := db.collections[collection]
	if !ok {
		tbl = make(map[string]store.Fields)
		db.collections[collection] = tbl
	}
	return tbl
}

func (db *DB) Add(_ context.Context, collection string, data store.Fields) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := uuid.New().String()
	db.table(collection)[id] = cloneFields(data)
	db.notify(collection)
	return id, nil
}

func (db *DB) Set(_ context.Context, collection, id string, data store.Fields) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.table(collection)[id] = cloneFields(data)
	db.notify(collection)
	return nil
}

func (db *DB) Update(_ context.Context, collection, id string, data store.Fields) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc, ok := db.table(collection)[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range data {
		doc[k] = v
	}
	db.notify(collection)
	return nil
}

func (db *DB) Delete(_ context.Context, collection, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.table(collection), id)
	db.notify(collection)
	return nil
}

func (db *DB) Get(_ context.Context, collection, id string) (store.Document, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	data, ok := db.table(collection)[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Data: cloneFields(data)}, nil
}

func (db *DB) GetAll(_ context.Context, q store.Query) ([]store.Document, error) {
	if err := store.ValidateQuery(q); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.evaluate(q), nil
}

func (db *DB) Subscribe(_ context.Context, q store.Query) (store.Subscription, error) {
	if err := store.ValidateQuery(q); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	sub := newSubscription(db, q)
	db.subs[sub] = struct{}{}
	sub.push(db.evaluate(q)) // initial snapshot
	go sub.run()
	return sub, nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	for sub := range db.subs {
		sub.stop()
	}
	db.subs = make(map[*subscription]struct{})
	return nil
}

// evaluate returns the matching documents sorted by id, for deterministic
// snapshots. Callers must hold at least a read lock.
func (db *DB) evaluate(q store.Query) []store.Document {
	docs := make([]store.Document, 0)
	for id, data := range db.table(q.Collection) {
		doc := store.Document{ID: id, Data: cloneFields(data)}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// notify re-evaluates every open subscription on the mutated collection.
// Callers must hold the write lock.
func (db *DB) notify(collection string) {
	for sub := range db.subs {
		if sub.query.Collection == collection {
			sub.push(db.evaluate(sub.query))
		}
	}
}

func (db *DB) drop(sub *subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subs, sub)
}

func cloneFields(data store.Fields) store.Fields {
	out := make(store.Fields, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// subscription delivers coalesced snapshots: if the consumer lags, only the
// latest snapshot is kept pending, matching live-query semantics.
type subscription struct {
	db    *DB
	query store.Query

	snaps chan []store.Document
	errs  chan error

	mu      sync.Mutex
	pending []store.Document
	dirty   bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

var _ store.Subscription = (*subscription)(nil)

func newSubscription(db *DB, q store.Query) *subscription {
	return &subscription{
		db:    db,
		query: q,
		snaps: make(chan []store.Document),
		errs:  make(chan error, 1),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (sub *subscription) Snapshots() <-chan []store.Document { return sub.snaps }
func (sub *subscription) Errors() <-chan error               { return sub.errs }

func (sub *subscription) Unsubscribe() {
	sub.db.drop(sub)
	sub.stop()
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

func (sub *subscription) push(docs []store.Document) {
	sub.mu.Lock()
	sub.pending = docs
	sub.dirty = true
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) run() {
	defer close(sub.snaps)
	defer close(sub.errs)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		sub.mu.Lock()
		docs, dirty := sub.pending, sub.dirty
		sub.dirty = false
		sub.mu.Unlock()
		if !dirty {
			continue
		}

		select {
		case sub.snaps <- docs:
		case <-sub.done:
			return
		}
	}
}
