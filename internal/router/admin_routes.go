package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
)

// registerAdmin mounts librarian operations: copy registration, maintenance
// transitions and on-demand sweeps.
func registerAdmin(g *echo.Group, a *handler.AdminHandler) {
	g.POST("/copies", a.RegisterCopy)
	g.GET("/copies/:id", a.GetCopy)
	g.POST("/copies/:id/status", a.SetCopyStatus)
	g.GET("/titles/:id/copies", a.TitleCopies)
	g.POST("/sweeps/reservations", a.SweepReservations)
	g.POST("/sweeps/overdue", a.SweepOverdue)
}
