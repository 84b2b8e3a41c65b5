package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

type ReservationService interface {
	CreateReservation(ctx context.Context, borrowerID model.BorrowerID, titleID model.TitleID) (model.Reservation, error)
	GetReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error)
	CancelReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error)
	ListQueue(ctx context.Context, titleID model.TitleID) ([]model.Reservation, error)
}

// ReservationHandler serves /v1/reservations and the title queue view.
type ReservationHandler struct {
	Queue ReservationService
}

func NewReservationHandler(q ReservationService) *ReservationHandler {
	if q == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Queue: q}
}

type createReservationRequest struct {
	BorrowerID string `json:"borrowerId" validate:"required,max=64"`
	TitleID    string `json:"titleId" validate:"required,max=64"`
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	borrowerID, err := model.ParseBorrowerID(req.BorrowerID)
	if err != nil {
		return respondError(c, err)
	}
	titleID, err := model.ParseTitleID(req.TitleID)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CanActFor(c, string(borrowerID)) {
		return forbidden(c)
	}
	res, err := h.Queue.CreateReservation(c.Request().Context(), borrowerID, titleID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, err := model.ParseReservationID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Queue.GetReservation(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CanActFor(c, string(res.BorrowerID)) {
		return forbidden(c)
	}
	return c.JSON(http.StatusOK, res)
}

// Cancel handles DELETE /v1/reservations/:id.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, err := model.ParseReservationID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	cur, err := h.Queue.GetReservation(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CanActFor(c, string(cur.BorrowerID)) {
		return forbidden(c)
	}
	res, err := h.Queue.CancelReservation(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// TitleQueue handles GET /v1/titles/:id/queue. Borrowers see positions but not
// who holds them.
func (h *ReservationHandler) TitleQueue(c echo.Context) error {
	titleID, err := model.ParseTitleID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	list, err := h.Queue.ListQueue(c.Request().Context(), titleID)
	if err != nil {
		return respondError(c, err)
	}
	if role, ok := middleware.Role(c); ok && role != middleware.RoleLibrarian {
		sub, _ := middleware.Subject(c)
		for i := range list {
			if string(list[i].BorrowerID) != sub {
				list[i].BorrowerID = ""
			}
		}
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"titleId": titleID, "queue": list})
}
