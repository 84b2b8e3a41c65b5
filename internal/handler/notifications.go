package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

type JobStatusReader interface {
	JobStatus(ctx context.Context, id model.JobID) (model.JobStatusView, error)
	JobOwner(ctx context.Context, id model.JobID) (model.BorrowerID, error)
}

type NotificationHandler struct {
	Jobs JobStatusReader
}

func NewNotificationHandler(jobs JobStatusReader) *NotificationHandler {
	if jobs == nil {
		panic("nil service passed to NewNotificationHandler")
	}
	return &NotificationHandler{Jobs: jobs}
}

// Status handles GET /v1/notifications/:id.
func (h *NotificationHandler) Status(c echo.Context) error {
	id, err := model.ParseJobID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	owner, err := h.Jobs.JobOwner(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CanActFor(c, string(owner)) {
		return forbidden(c)
	}
	v, err := h.Jobs.JobStatus(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
