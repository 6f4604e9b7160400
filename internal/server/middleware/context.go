package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/pkg/ai"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/youtube"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

// App holds the shared dependencies of the HTTP API. It is built once during
// server startup; handlers reach it through the AppContext cast.
type App struct {
	Config   *config.Config
	Store    store.GraphStorage
	Embedder ai.EmbeddingClient
	Queue    *amqp091.Channel
	S3       *s3.Client
	// YouTube is nil when no API key is configured.
	YouTube *youtube.Client
	Key     *keyfunc.Keyfunc

	MasterAPIKey   string
	MasterUserID   int64
	MasterUserRole string
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
