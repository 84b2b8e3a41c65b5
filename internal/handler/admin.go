package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/service"
)

type CopyLedger interface {
	RegisterCopy(ctx context.Context, c model.Copy) (model.Copy, error)
	GetCopy(ctx context.Context, id model.CopyID) (model.Copy, error)
	ListTitleCopies(ctx context.Context, titleID model.TitleID) ([]model.Copy, error)
	Transition(ctx context.Context, id model.CopyID, fromExpected *model.CopyStatus, to model.CopyStatus) (model.Copy, error)
}

type Sweeper interface {
	ExpireStaleReservations(ctx context.Context) (service.ExpirySummary, error)
}

type OverdueScanner interface {
	Scan(ctx context.Context) (service.ScanSummary, error)
}

// AdminHandler serves the librarian-only /v1/admin endpoints.
type AdminHandler struct {
	Ledger  CopyLedger
	Sweeper Sweeper
	Scanner OverdueScanner
}

func NewAdminHandler(ledger CopyLedger, sweeper Sweeper, scanner OverdueScanner) *AdminHandler {
	if ledger == nil || sweeper == nil || scanner == nil {
		panic("nil service passed to NewAdminHandler")
	}
	return &AdminHandler{Ledger: ledger, Sweeper: sweeper, Scanner: scanner}
}

type registerCopyRequest struct {
	CopyID   string `json:"copyId" validate:"required,max=64"`
	TitleID  string `json:"titleId" validate:"required,max=64"`
	Location string `json:"location" validate:"max=128"`
}

// RegisterCopy handles POST /v1/admin/copies.
func (h *AdminHandler) RegisterCopy(c echo.Context) error {
	var req registerCopyRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	copyID, err := model.ParseCopyID(req.CopyID)
	if err != nil {
		return respondError(c, err)
	}
	titleID, err := model.ParseTitleID(req.TitleID)
	if err != nil {
		return respondError(c, err)
	}
	cp, err := h.Ledger.RegisterCopy(c.Request().Context(), model.Copy{
		ID:       copyID,
		TitleID:  titleID,
		Location: strings.TrimSpace(req.Location),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cp)
}

// GetCopy handles GET /v1/admin/copies/:id.
func (h *AdminHandler) GetCopy(c echo.Context) error {
	copyID, err := model.ParseCopyID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	cp, err := h.Ledger.GetCopy(c.Request().Context(), copyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// TitleCopies handles GET /v1/admin/titles/:id/copies.
func (h *AdminHandler) TitleCopies(c echo.Context) error {
	titleID, err := model.ParseTitleID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	copies, err := h.Ledger.ListTitleCopies(c.Request().Context(), titleID)
	if err != nil {
		return respondError(c, err)
	}
	if copies == nil {
		copies = []model.Copy{}
	}
	return c.JSON(http.StatusOK, echo.Map{"titleId": titleID, "copies": copies})
}

type copyStatusRequest struct {
	From string `json:"from" validate:"omitempty,oneof=AVAILABLE BORROWED RESERVED MAINTENANCE"`
	To   string `json:"to" validate:"required,oneof=AVAILABLE BORROWED RESERVED MAINTENANCE"`
}

// SetCopyStatus handles POST /v1/admin/copies/:id/status. It is meant for
// taking copies in and out of MAINTENANCE.
func (h *AdminHandler) SetCopyStatus(c echo.Context) error {
	copyID, err := model.ParseCopyID(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	var req copyStatusRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	to := model.CopyStatus(req.To)
	if to == model.CopyBorrowed || to == model.CopyReserved {
		return respondError(c, apperr.Validation("BORROWED and RESERVED are set by loans and reservations").With("to", req.To))
	}
	var from *model.CopyStatus
	if req.From != "" {
		f := model.CopyStatus(req.From)
		from = &f
	}
	cp, err := h.Ledger.Transition(c.Request().Context(), copyID, from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// SweepReservations handles POST /v1/admin/sweeps/reservations.
func (h *AdminHandler) SweepReservations(c echo.Context) error {
	sum, err := h.Sweeper.ExpireStaleReservations(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// SweepOverdue handles POST /v1/admin/sweeps/overdue.
func (h *AdminHandler) SweepOverdue(c echo.Context) error {
	sum, err := h.Scanner.Scan(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
