package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/service"
	"github.com/iliyamo/library-circulation/internal/utils"
)

const secret = "test-secret"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type discardJobs struct{}

func (discardJobs) Enqueue(context.Context, model.NotificationJob) (model.JobID, error) {
	return model.NewJobID(), nil
}

func (discardJobs) JobStatus(_ context.Context, id model.JobID) (model.JobStatusView, error) {
	return model.JobStatusView{JobID: id, Status: model.JobCompleted, Attempts: 1, MaxAttempts: 3}, nil
}

// every job notifies b-1
func (discardJobs) JobOwner(context.Context, model.JobID) (model.BorrowerID, error) {
	return "b-1", nil
}

func newServer(t *testing.T, auth bool) *echo.Echo {
	t.Helper()
	store := memory.New()
	for _, id := range []string{"b-1", "b-2", "b-3"} {
		store.PutBorrower(model.Borrower{ID: model.BorrowerID(id), Name: id, Email: id + "@example.org", LoanLimit: 5})
	}
	store.PutTitle(model.Title{ID: "t-1", Name: "Dune", Author: "Frank Herbert"})

	policy := service.DefaultPolicy()
	ledger := service.NewLedger(store, store, nil, nil)
	queue := service.NewReservationQueue(service.QueueDeps{
		Tx: store, Locks: store, Copies: store, Reservations: store,
		Borrowers: store, Titles: store, Ledger: ledger, Jobs: discardJobs{}, Policy: policy,
	})
	loans := service.NewLoanManager(service.LoanDeps{
		Tx: store, Locks: store, Loans: store, Reservations: store,
		Borrowers: store, Ledger: ledger, Queue: queue, Policy: policy,
	})
	scanner := service.NewOverdueScanner(store, store, discardJobs{}, policy, nil, nil)

	e := echo.New()
	e.Validator = handler.NewValidator()
	router.RegisterRoutes(e, router.Handlers{
		Health:        handler.NewHealthHandler(nil),
		Loans:         handler.NewLoanHandler(loans),
		Reservations:  handler.NewReservationHandler(queue),
		Notifications: handler.NewNotificationHandler(discardJobs{}),
		Admin:         handler.NewAdminHandler(ledger, queue, scanner),
	}, router.Options{AuthEnabled: auth, JWTSecret: secret})
	return e
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func do(e *echo.Echo, method, path, bearer, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestLoanLifecycle(t *testing.T) {
	e := newServer(t, false)

	rec := do(e, http.MethodPost, "/v1/admin/copies", "", `{"copyId":"c-1","titleId":"t-1","location":"A-3"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/v1/loans", "", `{"borrowerId":"b-1","copyId":"c-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan model.Loan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loan))
	assert.Equal(t, model.BorrowerID("b-1"), loan.BorrowerID)
	assert.Nil(t, loan.ReturnedAt)

	rec = do(e, http.MethodPost, "/v1/loans", "", `{"borrowerId":"b-2","copyId":"c-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BOOK_NOT_AVAILABLE", errorCode(t, rec))

	rec = do(e, http.MethodGet, "/v1/loans/"+string(loan.ID), "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/v1/loans/"+string(loan.ID)+"/return", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Loan      model.Loan `json:"loan"`
		IsOverdue bool       `json:"isOverdue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotNil(t, res.Loan.ReturnedAt)
	assert.False(t, res.IsOverdue)

	rec = do(e, http.MethodPost, "/v1/loans/"+string(loan.ID)+"/return", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RETURNED", errorCode(t, rec))
}

func TestErrorStatuses(t *testing.T) {
	e := newServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing field", http.MethodPost, "/v1/loans", `{"borrowerId":"b-1"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"malformed body", http.MethodPost, "/v1/loans", `{"borrowerId":`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown borrower", http.MethodPost, "/v1/loans", `{"borrowerId":"nobody","copyId":"c-1"}`, http.StatusNotFound, "BORROWER_NOT_FOUND"},
		{"unknown loan", http.MethodGet, "/v1/loans/missing", "", http.StatusNotFound, "LOAN_NOT_FOUND"},
		{"unknown reservation", http.MethodGet, "/v1/reservations/missing", "", http.StatusNotFound, "RESERVATION_NOT_FOUND"},
		{"unknown copy", http.MethodGet, "/v1/admin/copies/missing", "", http.StatusNotFound, "COPY_NOT_FOUND"},
		{"status set by loans", http.MethodPost, "/v1/admin/copies/c-1/status", `{"to":"BORROWED"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"status not allowed", http.MethodPost, "/v1/admin/copies/c-1/status", `{"to":"LOST"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestMaintenanceRoundTrip(t *testing.T) {
	e := newServer(t, false)
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/admin/copies", "", `{"copyId":"c-1","titleId":"t-1"}`).Code)

	rec := do(e, http.MethodPost, "/v1/admin/copies/c-1/status", "", `{"from":"AVAILABLE","to":"MAINTENANCE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/v1/loans", "", `{"borrowerId":"b-1","copyId":"c-1"}`)
	assert.Equal(t, "BOOK_NOT_AVAILABLE", errorCode(t, rec))

	// stale expectation
	rec = do(e, http.MethodPost, "/v1/admin/copies/c-1/status", "", `{"from":"AVAILABLE","to":"MAINTENANCE"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))
}

func TestAuthRequired(t *testing.T) {
	e := newServer(t, true)

	rec := do(e, http.MethodGet, "/v1/loans/any", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodGet, "/v1/loans/any", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodGet, "/v1/loans/any", token(t, "x", "GUEST"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBorrowersActOnlyForThemselves(t *testing.T) {
	e := newServer(t, true)
	librarian := token(t, "staff-1", middleware.RoleLibrarian)
	b1 := token(t, "b-1", middleware.RoleBorrower)
	b2 := token(t, "b-2", middleware.RoleBorrower)

	rec := do(e, http.MethodPost, "/v1/admin/copies", b1, `{"copyId":"c-1","titleId":"t-1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(e, http.MethodPost, "/v1/admin/copies", librarian, `{"copyId":"c-1","titleId":"t-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/v1/loans", b2, `{"borrowerId":"b-1","copyId":"c-1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodPost, "/v1/loans", b1, `{"borrowerId":"b-1","copyId":"c-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan model.Loan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loan))

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/v1/loans/"+string(loan.ID), b2, "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/v1/loans/"+string(loan.ID), b1, "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/v1/loans/"+string(loan.ID), librarian, "").Code)
}

func TestTitleQueueHidesOtherBorrowers(t *testing.T) {
	e := newServer(t, true)
	librarian := token(t, "staff-1", middleware.RoleLibrarian)
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/admin/copies", librarian, `{"copyId":"c-1","titleId":"t-1"}`).Code)
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/loans", librarian, `{"borrowerId":"b-1","copyId":"c-1"}`).Code)

	for _, b := range []string{"b-2", "b-3"} {
		rec := do(e, http.MethodPost, "/v1/reservations", token(t, b, middleware.RoleBorrower), `{"borrowerId":"`+b+`","titleId":"t-1"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var body struct {
		TitleID string              `json:"titleId"`
		Queue   []model.Reservation `json:"queue"`
	}
	rec := do(e, http.MethodGet, "/v1/titles/t-1/queue", token(t, "b-3", middleware.RoleBorrower), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queue, 2)
	assert.Equal(t, model.BorrowerID(""), body.Queue[0].BorrowerID)
	assert.Equal(t, model.BorrowerID("b-3"), body.Queue[1].BorrowerID)
	assert.Equal(t, 2, body.Queue[1].Position)

	rec = do(e, http.MethodGet, "/v1/titles/t-1/queue", librarian, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.BorrowerID("b-2"), body.Queue[0].BorrowerID)
}

func TestReservationOnAvailableTitle(t *testing.T) {
	e := newServer(t, false)
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/admin/copies", "", `{"copyId":"c-1","titleId":"t-1"}`).Code)

	rec := do(e, http.MethodPost, "/v1/reservations", "", `{"borrowerId":"b-1","titleId":"t-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BOOK_AVAILABLE", errorCode(t, rec))
}

func TestSweepsAndNotificationStatus(t *testing.T) {
	e := newServer(t, false)

	rec := do(e, http.MethodPost, "/v1/admin/sweeps/reservations", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(e, http.MethodPost, "/v1/admin/sweeps/overdue", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/v1/notifications/j-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v model.JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, model.JobStatusView{JobID: "j-1", Status: model.JobCompleted, Attempts: 1, MaxAttempts: 3}, v)
}

func TestNotificationStatusOwnership(t *testing.T) {
	e := newServer(t, true)

	rec := do(e, http.MethodGet, "/v1/notifications/j-1", token(t, "b-2", middleware.RoleBorrower), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodGet, "/v1/notifications/j-1", token(t, "b-1", middleware.RoleBorrower), "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(e, http.MethodGet, "/v1/notifications/j-1", token(t, "staff-1", middleware.RoleLibrarian), "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTitleCopies(t *testing.T) {
	e := newServer(t, false)
	for _, id := range []string{"c-2", "c-1"} {
		require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/admin/copies", "", `{"copyId":"`+id+`","titleId":"t-1"}`).Code)
	}
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/loans", "", `{"borrowerId":"b-1","copyId":"c-2"}`).Code)

	rec := do(e, http.MethodGet, "/v1/admin/titles/t-1/copies", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Copies []model.Copy `json:"copies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Copies, 2)
	assert.Equal(t, model.CopyAvailable, body.Copies[0].Status)
	assert.Equal(t, model.CopyBorrowed, body.Copies[1].Status)

	rec = do(e, http.MethodGet, "/v1/admin/titles/t-9/copies", "", "")
	assert.JSONEq(t, `{"titleId":"t-9","copies":[]}`, rec.Body.String())
}
