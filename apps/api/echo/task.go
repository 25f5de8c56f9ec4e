package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/core/task"
)

type taskApi struct {
	svc       *task.Service
	courseSvc *course.Service
	validate  *validator.Validate
}

func registerTaskAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *task.Service,
	courseSvc *course.Service,
	validate *validator.Validate,
) {
	api := taskApi{svc: svc, courseSvc: courseSvc, validate: validate}

	// unverified sessions only get the verification prompt, no task data
	tg := g.Group("/tasks", jwt, verifiedEmailMiddleware())
	tg.GET("", api.query)
	tg.GET("/due", api.dueBuckets)
	tg.GET("/:id", api.retrieve)
	tg.POST("", api.create)
	tg.PUT("/:id", api.update)
	tg.POST("/:id/toggle", api.toggle)
	tg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *taskApi) create(ctx echo.Context) error {
	var data task.NewTask
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	tsk, err := api.svc.Create(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "creating task")
	}
	return ctx.JSON(http.StatusCreated, tsk)
}

// query lists the tasks of the caller's courses, optionally filtered and sorted.
func (api *taskApi) query(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	tasks, err := api.memberTasks(ctx, sess.UID)
	if err != nil {
		return err
	}

	filter := task.Filter{
		CourseID: ctx.QueryParam("courseId"),
		Status:   ctx.QueryParam("status"),
		Priority: ctx.QueryParam("priority"),
	}
	tasks = task.ApplyFilter(tasks, filter)
	if by := ctx.QueryParam("sort"); by != "" {
		tasks = task.SortTasks(tasks, by)
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	tsk, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding task by ID")
	}
	return ctx.JSON(http.StatusOK, tsk)
}

func (api *taskApi) update(ctx echo.Context) error {
	var data task.NewTask
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	tsk, err := api.svc.Update(ctx.Request().Context(), sess, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating task")
	}
	return ctx.JSON(http.StatusOK, tsk)
}

func (api *taskApi) toggle(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	tsk, err := api.svc.Toggle(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "toggling task")
	}
	return ctx.JSON(http.StatusOK, tsk)
}

func (api *taskApi) destroy(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	if err := api.svc.Delete(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting task")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *taskApi) dueBuckets(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	tasks, err := api.memberTasks(ctx, sess.UID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, task.BucketByDue(tasks, time.Now()))
}

func (api *taskApi) memberTasks(ctx echo.Context, userID string) ([]task.Task, error) {
	memberships, err := api.courseSvc.MembershipsByUser(ctx.Request().Context(), userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying memberships")
	}
	courseIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		courseIDs = append(courseIDs, m.CourseID)
	}

	tasks, err := api.svc.QueryByCourses(ctx.Request().Context(), courseIDs)
	if err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}
