package middleware

import (
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// KeySource verifies JWT signatures. keyfunc.Keyfunc implements it.
type KeySource interface {
	Keyfunc(token *jwt.Token) (any, error)
}

type App struct {
	Pipeline     *pipeline.Orchestrator
	Artifacts    audit.ArtifactStore
	Metrics      *metrics.Metrics
	Key          KeySource
	MasterAPIKey string
}

// AuthEnabled reports whether requests must carry credentials.
func (a *App) AuthEnabled() bool {
	return a.Key != nil || a.MasterAPIKey != ""
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
