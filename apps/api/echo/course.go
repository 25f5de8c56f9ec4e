package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/core/task"
)

type courseApi struct {
	svc      *course.Service
	taskSvc  *task.Service
	validate *validator.Validate
}

func registerCourseAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *course.Service,
	taskSvc *task.Service,
	validate *validator.Validate,
) {
	api := courseApi{svc: svc, taskSvc: taskSvc, validate: validate}

	// unverified sessions only get the verification prompt, no course data
	cg := g.Group("/courses", jwt, verifiedEmailMiddleware())
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.GET("/:id/stats", api.stats)
	cg.POST("", api.create)
	cg.POST("/:id/join", api.join)
	cg.POST("/:id/leave", api.leave)
	cg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	crs, err := api.svc.Create(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *courseApi) query(ctx echo.Context) error {
	courses, err := api.svc.QueryAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	crs, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding course by ID")
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) join(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	member, err := api.svc.Join(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "joining course")
	}
	return ctx.JSON(http.StatusOK, member)
}

func (api *courseApi) leave(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	if err := api.svc.Leave(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "leaving course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context session")
	}

	if err := api.svc.Delete(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) stats(ctx echo.Context) error {
	courseID := ctx.Param("id")
	if _, err := api.svc.GetByID(ctx.Request().Context(), courseID); err != nil {
		return errors.Wrap(err, "finding course by ID")
	}

	tasks, err := api.taskSvc.QueryByCourses(ctx.Request().Context(), []string{courseID})
	if err != nil {
		return errors.Wrap(err, "querying course tasks")
	}
	return ctx.JSON(http.StatusOK, task.StatsForCourse(tasks, courseID))
}
