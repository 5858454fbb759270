package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/medrag/internal/queue"
	"github.com/OFFIS-RIT/medrag/internal/storage"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

// Engine is the part of *rag.Engine the handlers use.
type Engine interface {
	Insert(ctx context.Context, text string) (rag.InsertReport, error)
	Query(ctx context.Context, question string, p common.QueryParam) (string, error)
	DeleteEntity(ctx context.Context, name string) error
	GetStatistics(ctx context.Context) (rag.Statistics, error)
	GetAllNodes(ctx context.Context, limit int) ([]common.Entity, error)
	GetAllEdges(ctx context.Context, limit int) ([]common.Relation, error)
}

// App holds the dependencies shared by all handlers. Queue and Storage are
// nil when RabbitMQ or S3 are not configured.
type App struct {
	Engine  Engine
	Queue   queue.Publisher
	Storage *storage.Client
	Loaders loader.Set
}

type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware wraps every request context in an AppContext.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}

// GetApp returns the App of an AppContext.
func GetApp(c echo.Context) *App {
	return c.(*AppContext).App
}
