package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/service"
)

type LoanService interface {
	CreateLoan(ctx context.Context, borrowerID model.BorrowerID, copyID model.CopyID) (model.Loan, error)
	GetLoan(ctx context.Context, id model.LoanID) (model.Loan, error)
	ReturnBook(ctx context.Context, id model.LoanID) (service.ReturnResult, error)
}

// LoanHandler serves the /v1/loans endpoints.
type LoanHandler struct {
	Loans LoanService
}

func NewLoanHandler(loans LoanService) *LoanHandler {
	if loans == nil {
		panic("nil service passed to NewLoanHandler")
	}
	return &LoanHandler{Loans: loans}
}

type createLoanRequest struct {
	BorrowerID string `json:"borrowerId" validate:"required,max=64"`
	CopyID     string `json:"copyId" validate:"required,max=64"`
}

// Create handles POST /v1/loans.
func (h *LoanHandler) Create(c echo.Context) error {
	var req createLoanRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	borrowerID, err := model.ParseBorrowerID(req.BorrowerID)
	if err != nil {
		return respondError(c, err)
	}
	copyID, err := model.ParseCopyID(req.CopyID)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CanActFor(c, string(borrowerID)) {
		return forbidden(c)
	}
	loan, err := h.Loans.CreateLoan(c.Request().Context(), borrowerID, copyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, loan)
}

// Get handles GET /v1/loans/:id.
func (h *LoanHandler) Get(c echo.Context) error {
	loan, err := h.load(c)
	if err != nil {
		return err
	}
	if loan == nil {
		return nil
	}
	return c.JSON(http.StatusOK, loan)
}

// Return handles POST /v1/loans/:id/return.
func (h *LoanHandler) Return(c echo.Context) error {
	loan, err := h.load(c)
	if err != nil || loan == nil {
		return err
	}
	res, err := h.Loans.ReturnBook(c.Request().Context(), loan.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// load fetches the loan named in the path and checks the caller may see it.
// A nil loan with a nil error means a response was already written.
func (h *LoanHandler) load(c echo.Context) (*model.Loan, error) {
	id, err := model.ParseLoanID(c.Param("id"))
	if err != nil {
		return nil, respondError(c, err)
	}
	loan, err := h.Loans.GetLoan(c.Request().Context(), id)
	if err != nil {
		return nil, respondError(c, err)
	}
	if !middleware.CanActFor(c, string(loan.BorrowerID)) {
		return nil, forbidden(c)
	}
	return &loan, nil
}
