package firestoredb

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

// DB backs store.Store with the managed Firestore service. Live queries map
// onto snapshot listeners; the In operator maps onto Firestore's "in" filter
// (which shares its 30-value cap with the original application).
type DB struct {
	client *firestore.Client
}

var _ store.Store = (*DB)(nil)

func Open(ctx context.Context, conf *core.Config) (*DB, error) {
	var opts []option.ClientOption
	if conf.Store.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(conf.Store.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, conf.Store.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &DB{client: client}, nil
}

func (db *DB) Add(ctx context.Context, collection string, data store.Fields) (string, error) {
	ref, _, err := db.client.Collection(collection).Add(ctx, map[string]interface{}(data))
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (db *DB) Set(ctx context.Context, collection, id string, data store.Fields) error {
	_, err := db.client.Collection(collection).Doc(id).Set(ctx, map[string]interface{}(data))
	return err
}

func (db *DB) Update(ctx context.Context, collection, id string, data store.Fields) error {
	_, err := db.client.Collection(collection).Doc(id).Set(ctx, map[string]interface{}(data), firestore.MergeAll)
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	return err
}

func (db *DB) Delete(ctx context.Context, collection, id string) error {
	_, err := db.client.Collection(collection).Doc(id).Delete(ctx)
	return err
}

func (db *DB) Get(ctx context.Context, collection, id string) (store.Document, error) {
	snap, err := db.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, err
	}
	return store.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (db *DB) GetAll(ctx context.Context, q store.Query) ([]store.Document, error) {
	fq, err := db.buildQuery(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, store.Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

func (db *DB) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	fq, err := db.buildQuery(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ctx:    ctx,
		cancel: cancel,
		snaps:  make(chan []store.Document),
		errs:   make(chan error, 1),
	}
	go sub.listen(fq.Snapshots(ctx))
	return sub, nil
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) buildQuery(q store.Query) (firestore.Query, error) {
	fq := db.client.Collection(q.Collection).Query
	if err := store.ValidateQuery(q); err != nil {
		return fq, err
	}
	for _, f := range q.Filters() {
		switch f.Op {
		case store.OpEq:
			fq = fq.Where(f.Field, "==", f.Value)
		case store.OpIn:
			vals := make([]interface{}, 0, len(f.Values))
			for _, v := range f.Values {
				vals = append(vals, v)
			}
			fq = fq.Where(f.Field, "in", vals)
		}
	}
	return fq, nil
}

type subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	snaps  chan []store.Document
	errs   chan error
}

var _ store.Subscription = (*subscription)(nil)

func (sub *subscription) Snapshots() <-chan []store.Document { return sub.snaps }
func (sub *subscription) Errors() <-chan error               { return sub.errs }

func (sub *subscription) Unsubscribe() {
	sub.cancel()
}

func (sub *subscription) listen(it *firestore.QuerySnapshotIterator) {
	defer close(sub.snaps)
	defer close(sub.errs)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			// cancellation via Unsubscribe is a clean stop
			if status.Code(err) != codes.Canceled {
				sub.errs <- err
			}
			return
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			sub.errs <- err
			return
		}
		docs := make([]store.Document, 0, len(snaps))
		for _, snap := range snaps {
			docs = append(docs, store.Document{ID: snap.Ref.ID, Data: snap.Data()})
		}
		select {
		case sub.snaps <- docs:
		case <-sub.ctx.Done():
			return
		}
	}
}
