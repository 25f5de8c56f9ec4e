package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/studysync/backend/storage/store"
)

func receiveSnapshot(t *testing.T, sub store.Subscription) []store.Document {
	t.Helper()
	select {
	case docs := <-sub.Snapshots():
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func Test_DB_crud(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	id, err := db.Add(ctx, store.Courses, store.Fields{"name": "CS101"})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	doc, err := db.Get(ctx, store.Courses, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if doc.Data["name"] != "CS101" {
		t.Errorf("Get() name = %v; want CS101", doc.Data["name"])
	}

	if err = db.Update(ctx, store.Courses, id, store.Fields{"name": "CS102"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	doc, _ = db.Get(ctx, store.Courses, id)
	if doc.Data["name"] != "CS102" {
		t.Errorf("Update() name = %v; want CS102", doc.Data["name"])
	}

	if err = db.Update(ctx, store.Courses, "nope", store.Fields{"name": "x"}); err != store.ErrNotFound {
		t.Errorf("Update() error = %v; want store.ErrNotFound", err)
	}

	if err = db.Delete(ctx, store.Courses, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err = db.Get(ctx, store.Courses, id); err != store.ErrNotFound {
		t.Errorf("Get() after Delete() error = %v; want store.ErrNotFound", err)
	}
}

func Test_DB_setUpserts(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	if err := db.Set(ctx, store.CourseMembers, "c1_u1", store.Fields{"role": "owner"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	// second Set on the same id must overwrite, not duplicate
	if err := db.Set(ctx, store.CourseMembers, "c1_u1", store.Fields{"role": "member"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	docs, err := db.GetAll(ctx, store.NewQuery(store.CourseMembers))
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("GetAll() returned %d docs; want 1", len(docs))
	}
	if docs[0].Data["role"] != "member" {
		t.Errorf("Set() did not overwrite; role = %v", docs[0].Data["role"])
	}
}

func Test_DB_queryFilters(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	_, _ = db.Add(ctx, store.Tasks, store.Fields{"courseId": "c1", "title": "a"})
	_, _ = db.Add(ctx, store.Tasks, store.Fields{"courseId": "c2", "title": "b"})
	_, _ = db.Add(ctx, store.Tasks, store.Fields{"courseId": "c3", "title": "c"})

	docs, err := db.GetAll(ctx, store.NewQuery(store.Tasks).Where("courseId", "c1"))
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Data["title"] != "a" {
		t.Errorf("Where() returned %v; want single doc titled a", docs)
	}

	docs, err = db.GetAll(ctx, store.NewQuery(store.Tasks).WhereIn("courseId", []string{"c1", "c3"}))
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("WhereIn() returned %d docs; want 2", len(docs))
	}

	if _, err = db.GetAll(ctx, store.NewQuery(store.Tasks).WhereIn("courseId", nil)); err != store.ErrEmptyInFilter {
		t.Errorf("WhereIn(empty) error = %v; want store.ErrEmptyInFilter", err)
	}
}

func Test_DB_subscribeFanOut(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	sub, err := db.Subscribe(ctx, store.NewQuery(store.Courses))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	// initial snapshot is empty
	if docs := receiveSnapshot(t, sub); len(docs) != 0 {
		t.Errorf("initial snapshot has %d docs; want 0", len(docs))
	}

	id, _ := db.Add(ctx, store.Courses, store.Fields{"name": "CS101"})
	if docs := receiveSnapshot(t, sub); len(docs) != 1 {
		t.Errorf("snapshot after Add has %d docs; want 1", len(docs))
	}

	_ = db.Delete(ctx, store.Courses, id)
	if docs := receiveSnapshot(t, sub); len(docs) != 0 {
		t.Errorf("snapshot after Delete has %d docs; want 0", len(docs))
	}
}

func Test_DB_subscribeScoped(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	sub, err := db.Subscribe(ctx, store.NewQuery(store.Tasks).WhereIn("courseId", []string{"c1"}))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	receiveSnapshot(t, sub) // initial

	// out-of-scope write still notifies with an unchanged match set
	_, _ = db.Add(ctx, store.Tasks, store.Fields{"courseId": "c2", "title": "other"})
	if docs := receiveSnapshot(t, sub); len(docs) != 0 {
		t.Errorf("out-of-scope write leaked %d docs into snapshot", len(docs))
	}

	_, _ = db.Add(ctx, store.Tasks, store.Fields{"courseId": "c1", "title": "mine"})
	if docs := receiveSnapshot(t, sub); len(docs) != 1 {
		t.Errorf("snapshot has %d docs; want 1", len(docs))
	}
}

func Test_DB_subscribeCoalesces(t *testing.T) {
	db := NewDB()
	defer db.Close()
	ctx := context.Background()

	sub, err := db.Subscribe(ctx, store.NewQuery(store.Courses))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	// burst of writes while the consumer is not reading
	for i := 0; i < 10; i++ {
		_, _ = db.Add(ctx, store.Courses, store.Fields{"name": "c"})
	}

	// the final snapshot observed must contain all 10 docs
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-sub.Snapshots():
			if len(docs) == 10 {
				return
			}
		case <-deadline:
			t.Fatal("never observed the complete snapshot")
		}
	}
}

func Test_DB_unsubscribeClosesChannels(t *testing.T) {
	db := NewDB()
	defer db.Close()

	sub, err := db.Subscribe(context.Background(), store.NewQuery(store.Courses))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	sub.Unsubscribe()

	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			// drain the pending initial snapshot, the channel must close after
			if _, ok = <-sub.Snapshots(); ok {
				t.Error("Snapshots() still open after Unsubscribe()")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshots() not closed after Unsubscribe()")
	}
}
