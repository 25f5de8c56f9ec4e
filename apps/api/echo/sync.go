package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/course"
	appsync "github.com/studysync/backend/core/sync"
	"github.com/studysync/backend/core/task"
	"github.com/studysync/backend/storage/store"
)

type syncApi struct {
	db        store.Store
	courseSvc *course.Service
	taskSvc   *task.Service
	logger    core.Logger
}

func registerSyncAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	db store.Store,
	courseSvc *course.Service,
	taskSvc *task.Service,
	logger core.Logger,
) {
	api := syncApi{db: db, courseSvc: courseSvc, taskSvc: taskSvc, logger: logger}

	g.GET("/sync/stream", api.stream, jwt, verifiedEmailMiddleware())
	g.GET("/dashboard", api.dashboard, jwt, verifiedEmailMiddleware())
}

// stream pushes live state snapshots over Server-Sent Events for as long as
// the client stays connected. Each event carries the full snapshot, so a
// client can always render from the latest event alone.
func (api *syncApi) stream(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	coord := appsync.NewCoordinator(api.db, sess, api.logger)
	defer coord.Close()

	reqCtx := ctx.Request().Context()
	if err := coord.Start(reqCtx); err != nil {
		if err == appsync.ErrUnverifiedSession {
			return errEmailNotVerified
		}
		return errors.Wrap(err, "starting sync coordinator")
	}

	// periodic keep-alive comment so proxies do not drop idle streams
	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case snap := <-coord.Updates():
			payload, err := json.Marshal(snap)
			if err != nil {
				return errors.Wrap(err, "marshaling snapshot")
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

type dashboardResponse struct {
	Courses       []course.Course       `json:"courses"`
	Memberships   []course.CourseMember `json:"memberships"`
	Tasks         []task.Task           `json:"tasks"`
	Due           task.DueBuckets       `json:"due"`
	PendingCounts map[string]int        `json:"pendingCounts"`
	// Stats is keyed by course id.
	Stats map[string]task.CourseStats `json:"stats"`
}

// dashboard returns a one-shot aggregate of the caller's courses, tasks and
// derived views, for clients that do not hold a live stream open.
func (api *syncApi) dashboard(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}
	reqCtx := ctx.Request().Context()

	memberships, err := api.courseSvc.MembershipsByUser(reqCtx, sess.UID)
	if err != nil {
		return errors.Wrap(err, "querying memberships")
	}

	courses := make([]course.Course, 0, len(memberships))
	courseIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		crs, err := api.courseSvc.GetByID(reqCtx, m.CourseID)
		if err != nil {
			if core.IsNotFound(err) {
				continue // membership row outlived its course
			}
			return errors.Wrap(err, "finding course by ID")
		}
		courses = append(courses, crs)
		courseIDs = append(courseIDs, crs.ID)
	}

	tasks, err := api.taskSvc.QueryByCourses(reqCtx, courseIDs)
	if err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	if tasks == nil {
		tasks = []task.Task{}
	}

	stats := make(map[string]task.CourseStats, len(courseIDs))
	for _, id := range courseIDs {
		stats[id] = task.StatsForCourse(tasks, id)
	}

	return ctx.JSON(http.StatusOK, dashboardResponse{
		Courses:       courses,
		Memberships:   memberships,
		Tasks:         tasks,
		Due:           task.BucketByDue(tasks, time.Now()),
		PendingCounts: task.PendingCountByCourse(tasks),
		Stats:         stats,
	})
}
