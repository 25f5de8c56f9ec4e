// Package sync keeps the per-session collections synchronized with the store's
// live queries for the lifetime of an authenticated, email-verified session.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"

	"github.com/pkg/errors"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/core/task"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
)

// State of a session coordinator.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

var ErrUnverifiedSession = errors.New("session email not verified")

// Snapshot is the full client-visible state at one instant.
type Snapshot struct {
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
	// Notice carries a transient, non-fatal warning (auxiliary feed failure).
	Notice string `json:"notice,omitempty"`

	Courses        []course.Course       `json:"courses"`
	MyMemberships  []course.CourseMember `json:"myMemberships"`
	AllMemberships []course.CourseMember `json:"allMemberships"`
	Users          []user.User           `json:"users"`
	Tasks          []task.Task           `json:"tasks"`
}

// Coordinator owns the live queries of one session: four static feeds (all
// courses, my memberships, all memberships, all users) and a task feed scoped
// to the courses the session currently belongs to. The task feed is replaced
// cancel-then-open whenever the membership set changes, so no two task
// subscriptions are ever live at once. A Coordinator is bound to one Session
// for its whole life; a new session gets a new Coordinator.
type Coordinator struct {
	db     store.Store
	sess   user.Session
	logger core.Logger

	mu     gosync.Mutex
	state  State
	errMsg string
	notice string

	courses        []course.Course
	myMemberships  []course.CourseMember
	allMemberships []course.CourseMember
	users          []user.User
	tasks          []task.Task

	staticSubs   []store.Subscription
	taskSub      store.Subscription
	taskScope    string // signature of the course-id set the task feed covers
	taskScopeSet bool

	updates chan Snapshot
	closed  bool
}

func NewCoordinator(db store.Store, sess user.Session, logger core.Logger) *Coordinator {
	return &Coordinator{
		db:      db,
		sess:    sess,
		logger:  logger,
		state:   StateIdle,
		updates: make(chan Snapshot, 1),
	}
}

// Start opens the static subscriptions. The task feed follows from the first
// my-memberships snapshot. Only verified sessions may sync.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.sess.EmailVerified {
		return ErrUnverifiedSession
	}

	c.mu.Lock()
	c.state = StateLoading
	c.publishLocked()
	c.mu.Unlock()

	feeds := []struct {
		query  store.Query
		apply  func([]store.Document)
		errMsg string // non-empty marks the feed as fatal
		op     string
	}{
		{store.NewQuery(store.Courses), c.applyCourses, "Failed to load courses", "courses feed"},
		{store.NewQuery(store.CourseMembers).Where("userId", c.sess.UID), c.applyMyMemberships, "Failed to load memberships", "my memberships feed"},
		{store.NewQuery(store.CourseMembers), c.applyAllMemberships, "", "all memberships feed"},
		{store.NewQuery(store.Users), c.applyUsers, "", "users feed"},
	}

	for _, feed := range feeds {
		sub, err := c.db.Subscribe(ctx, feed.query)
		if err != nil {
			c.Close()
			return core.NewStoreError("opening "+feed.op, err)
		}
		c.mu.Lock()
		c.staticSubs = append(c.staticSubs, sub)
		c.mu.Unlock()
		go c.consume(sub, feed.apply, feed.errMsg, feed.op)
	}
	return nil
}

// Updates delivers coalesced state snapshots: if the consumer lags, only the
// latest snapshot is kept pending.
func (c *Coordinator) Updates() <-chan Snapshot {
	return c.updates
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close tears down every open subscription, including the dynamically-scoped
// task feed. Idempotent. A closed Coordinator is never restarted.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, sub := range c.staticSubs {
		sub.Unsubscribe()
	}
	c.staticSubs = nil
	if c.taskSub != nil {
		c.taskSub.Unsubscribe()
		c.taskSub = nil
	}
	c.state = StateIdle
	c.publishLocked()
}

// consume pumps one subscription into its apply func until it ends. A feed
// with a fatal message pins the error state; auxiliary feeds only log and set
// a transient notice, since they are lookup data rather than primary content.
func (c *Coordinator) consume(sub store.Subscription, apply func([]store.Document), fatalMsg, op string) {
	for {
		select {
		case docs, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			apply(docs)
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			c.feedError(op, err, fatalMsg)
			return
		}
	}
}

func (c *Coordinator) feedError(op string, err error, fatalMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fatalMsg == "" {
		c.logger.Warn(fmt.Sprintf("%s: %v", op, err), err)
		c.notice = fmt.Sprintf("Error loading %s", strings.TrimSuffix(op, " feed"))
		c.publishLocked()
		return
	}
	c.logger.Error(fmt.Sprintf("%s: %v", op, err), err)
	c.state = StateError
	c.errMsg = fatalMsg
	c.publishLocked()
}

func (c *Coordinator) applyCourses(docs []store.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.courses = make([]course.Course, 0, len(docs))
	for _, doc := range docs {
		c.courses = append(c.courses, course.FromDoc(doc))
	}
	c.publishLocked()
}

func (c *Coordinator) applyAllMemberships(docs []store.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allMemberships = make([]course.CourseMember, 0, len(docs))
	for _, doc := range docs {
		c.allMemberships = append(c.allMemberships, course.MemberFromDoc(doc))
	}
	c.publishLocked()
}

func (c *Coordinator) applyUsers(docs []store.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.users = make([]user.User, 0, len(docs))
	for _, doc := range docs {
		c.users = append(c.users, user.FromDoc(doc))
	}
	c.publishLocked()
}

// applyTasks ignores snapshots from a replaced feed: a consumer may have
// received one just before its subscription was torn down.
func (c *Coordinator) applyTasks(sub store.Subscription) func([]store.Document) {
	return func(docs []store.Document) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.taskSub != sub {
			return
		}
		c.setTasksLocked(docs)
	}
}

func (c *Coordinator) setTasksLocked(docs []store.Document) {
	c.tasks = make([]task.Task, 0, len(docs))
	for _, doc := range docs {
		c.tasks = append(c.tasks, task.FromDoc(doc))
	}
	if c.state == StateLoading {
		c.state = StateReady
	}
	c.publishLocked()
}

// applyMyMemberships recomputes the membership course-id set and, when it
// changed, replaces the task feed. Teardown and re-open happen synchronously
// under the lock, so subscriptions never overlap or leak.
func (c *Coordinator) applyMyMemberships(docs []store.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.myMemberships = make([]course.CourseMember, 0, len(docs))
	courseIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		m := course.MemberFromDoc(doc)
		c.myMemberships = append(c.myMemberships, m)
		courseIDs = append(courseIDs, m.CourseID)
	}
	sort.Strings(courseIDs)
	scope := strings.Join(courseIDs, "\n")

	if c.taskScopeSet && scope == c.taskScope {
		c.publishLocked()
		return
	}
	c.taskScope = scope
	c.taskScopeSet = true

	if c.taskSub != nil {
		c.taskSub.Unsubscribe()
		c.taskSub = nil
	}

	if len(courseIDs) == 0 {
		// an In query over an empty list is invalid; the task set is simply empty
		c.tasks = []task.Task{}
		if c.state == StateLoading {
			c.state = StateReady
		}
		c.publishLocked()
		return
	}

	if c.closed {
		return
	}
	sub, err := c.db.Subscribe(context.Background(), store.NewQuery(store.Tasks).WhereIn("courseId", courseIDs))
	if err != nil {
		c.logger.Error(fmt.Sprintf("opening task feed: %v", err), err)
		c.state = StateError
		c.errMsg = "Failed to load tasks"
		c.publishLocked()
		return
	}
	c.taskSub = sub
	go c.consume(sub, c.applyTasks(sub), "Failed to load tasks", "task feed")
	c.publishLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          c.state,
		Error:          c.errMsg,
		Notice:         c.notice,
		Courses:        append([]course.Course(nil), c.courses...),
		MyMemberships:  append([]course.CourseMember(nil), c.myMemberships...),
		AllMemberships: append([]course.CourseMember(nil), c.allMemberships...),
		Users:          append([]user.User(nil), c.users...),
		Tasks:          append([]task.Task(nil), c.tasks...),
	}
	c.notice = "" // notices are transient, delivered at most once
	return snap
}

func (c *Coordinator) publishLocked() {
	snap := c.snapshotLocked()
	for {
		select {
		case c.updates <- snap:
			return
		default:
			select {
			case <-c.updates: // drop the stale pending snapshot
			default:
			}
		}
	}
}
