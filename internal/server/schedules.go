package server

import (
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/skylarkhq/delver/internal/runtime"
	"github.com/skylarkhq/delver/internal/store"
)

// SchedulesHandler manages recurring research queries.
type SchedulesHandler struct {
	Store *store.Store
}

func (h *SchedulesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:schedule_id", h.delete)
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if err := validateCron(req.Cron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Get("user_id").(string)

	id, err := h.Store.CreateSchedule(c.Request().Context(), userID, req.Query, req.Cron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *SchedulesHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	scheds, err := h.Store.ListSchedules(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if scheds == nil {
		scheds = []store.ScheduleRecord{}
	}
	return c.JSON(http.StatusOK, scheds)
}

func (h *SchedulesHandler) delete(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	err := h.Store.DeleteSchedule(c.Request().Context(), c.Param("schedule_id"), userID)
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// validateCron accepts "@daily", "@hourly" and standard cron expressions.
func validateCron(spec string) error {
	switch spec {
	case "@daily", "@hourly":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression: "+spec)
	}
	return nil
}
