package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"siteplan/advisor"
	"siteplan/domain"
	"siteplan/timeline"
	"siteplan/view"
)

// Deps are the collaborators of the HTTP handlers. Auth, Deduper and
// Dispatcher are optional.
type Deps struct {
	Board      Board
	Advisor    Advisor
	Auth       Authenticator
	Deduper    Deduper
	Dispatcher *Dispatcher
	// Broker feeds /api/stream; Notifier publishes to it and defaults to
	// the Broker itself.
	Broker   *Broker
	Notifier Notifier
	Logger   *log.Logger
	// Today anchors the timeline window; it defaults to the current date.
	Today func() domain.Date
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Board == nil || d.Advisor == nil {
		panic("api.Register: board and advisor are required")
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Today == nil {
		d.Today = domain.Today
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.Notifier == nil {
		d.Notifier = d.Broker
	}

	g := e.Group("/api", RequestMetricsMiddleware(d.Logger))
	write := requireActor(d.Auth)

	g.GET("/tasks", getTasks(d.Board))
	g.POST("/tasks", postTask(d), write)
	g.GET("/stats", getStats(d.Board))
	g.GET("/timeline", getTimeline(d.Board, d.Today))
	g.GET("/screens/:screen", getScreen(d))
	g.POST("/advice", postAdvice(d), write)
	g.GET("/advice", getAdvice(d.Advisor))
	g.DELETE("/advice", deleteAdvice(d), write)
	g.GET("/stream", streamUpdates(d))
	e.GET("/healthz", healthz(d.Board))
}

func healthz(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "project": board.ID()})
	}
}

func getTasks(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks := board.Tasks()
		metricsFrom(c).SetInt("tasks_returned", len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getStats(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, domain.ComputeStats(board.Tasks()))
	}
}

// todayParam reads an optional ?today=YYYY-MM-DD override.
func todayParam(c echo.Context, today func() domain.Date) (domain.Date, error) {
	raw := strings.TrimSpace(c.QueryParam("today"))
	if raw == "" {
		return today(), nil
	}
	return domain.ParseDate(raw)
}

func getTimeline(board Board, today func() domain.Date) echo.HandlerFunc {
	return func(c echo.Context) error {
		day, err := todayParam(c, today)
		if err != nil {
			metricsFrom(c).SetErrorStage("invalid_today")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid today, expected YYYY-MM-DD"})
		}
		layout := timeline.Compute(board.Tasks(), day)
		metricsFrom(c).SetInt("bars", len(layout.Bars))
		metricsFrom(c).SetInt("connectors", len(layout.Connectors))
		return c.JSON(http.StatusOK, layout)
	}
}

func getScreen(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		screen, err := view.ParseScreen(c.Param("screen"))
		if err != nil {
			metricsFrom(c).SetErrorStage("unknown_screen")
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		day, err := todayParam(c, d.Today)
		if err != nil {
			metricsFrom(c).SetErrorStage("invalid_today")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid today, expected YYYY-MM-DD"})
		}
		state := view.Initial().Navigate(screen)
		if selected := strings.TrimSpace(c.QueryParam("selected")); selected != "" {
			state = state.SelectTask(selected)
		}
		snap := view.Snapshot{Tasks: d.Board.Tasks(), Today: day}
		if screen == view.AI {
			snap.Advice = d.Advisor.State(c.Request().Context())
		}
		metricsFrom(c).SetString("screen", screen.String())
		return c.JSON(http.StatusOK, view.Compose(state, snap))
	}
}

func postTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)
		actor := actorFrom(c)

		lr := io.LimitReader(c.Request().Body, postTaskMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var in domain.TaskInput
		if err := dec.Decode(&in); err != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if key != "" && d.Deduper != nil {
			added, err := d.Deduper.Add(ctx, actor, key)
			if err != nil {
				// Accept without deduplication while Redis is unavailable.
				d.Logger.WithError(err).Warn("idempotency check failed")
				key = ""
			} else if !added {
				m.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		}

		task, err := d.Board.AddTask(in)
		if err != nil {
			if key != "" && d.Deduper != nil {
				if rerr := d.Deduper.Remove(context.WithoutCancel(ctx), actor, key); rerr != nil {
					d.Logger.WithError(rerr).Warn("idempotency rollback failed")
				}
			}
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				m.SetErrorStage("validation")
				m.SetInt("invalid_fields", len(verr.Fields))
				return c.JSON(http.StatusBadRequest, errorResponse{Error: domain.ErrValidation.Error(), Fields: verr.Fields})
			}
			m.SetErrorStage("append")
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to add task"})
		}
		m.SetString("task_id", task.ID)
		d.Notifier.Notify(context.WithoutCancel(ctx), UpdateTasks)

		if d.Dispatcher != nil {
			queued, err := d.Dispatcher.Dispatch(actor, task)
			m.SetBool("dispatch_queued", queued)
			if err != nil {
				// The task is already on the board.
				m.SetErrorStage("dispatch")
				d.Logger.WithFields(log.Fields{"task_id": task.ID, "actor": actor}).Errorf("append follow-up failed: %v", err)
			}
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func postAdvice(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		err := d.Advisor.Start(ctx, d.Board.Tasks())
		switch {
		case errors.Is(err, advisor.ErrInFlight):
			metricsFrom(c).SetErrorStage("in_flight")
			return c.JSON(http.StatusConflict, errorResponse{Error: "analysis already in progress"})
		case err != nil:
			metricsFrom(c).SetErrorStage("guard")
			c.Logger().Error(err)
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "advisor unavailable"})
		}
		d.Notifier.Notify(ctx, UpdateAdvice)
		return c.JSON(http.StatusAccepted, d.Advisor.State(ctx))
	}
}

func getAdvice(adv Advisor) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := adv.State(c.Request().Context())
		metricsFrom(c).SetBool("in_flight", state.InFlight)
		return c.JSON(http.StatusOK, state)
	}
}

func deleteAdvice(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := d.Advisor.Clear(ctx); err != nil {
			metricsFrom(c).SetErrorStage("clear")
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to clear advice"})
		}
		d.Notifier.Notify(ctx, UpdateAdvice)
		return c.NoContent(http.StatusNoContent)
	}
}
