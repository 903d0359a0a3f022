// Command api-server runs the shop backend HTTP API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	server "github.com/petiteboutique/shop-api/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := server.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		return server.Run(ctx, lg, m, cfg)
	})
}
