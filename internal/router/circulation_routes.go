package router

import (
	"github.com/labstack/echo/v4"
)

// registerCirculation mounts the borrower-facing loan, reservation and
// notification routes. Handlers check that borrowers only act for themselves.
func registerCirculation(g *echo.Group, h Handlers) {
	g.POST("/loans", h.Loans.Create)
	g.GET("/loans/:id", h.Loans.Get)
	g.POST("/loans/:id/return", h.Loans.Return)

	g.POST("/reservations", h.Reservations.Create)
	g.GET("/reservations/:id", h.Reservations.Get)
	g.DELETE("/reservations/:id", h.Reservations.Cancel)
	g.GET("/titles/:id/queue", h.Reservations.TitleQueue)

	g.GET("/notifications/:id", h.Notifications.Status)
}
