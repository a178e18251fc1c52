package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipestock/internal/config"
	"recipestock/internal/inventory"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Application holds all the components and manages the application lifecycle
type Application struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
	inventory *inventory.Service
	consumer  inventory.ConsumerService
	server    *http.Server
}

// NewApplication creates and fully initializes a new Application instance:
// infrastructure, services, the inventory snapshot and the reservations of
// every open order.
func NewApplication(ctx context.Context) (*Application, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	app := &Application{
		ctx:    appCtx,
		cancel: cancel,
	}

	container, err := NewContainer(app.ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	app.container = container

	if err := app.wire(); err != nil {
		app.Shutdown()
		return nil, err
	}

	app.container.Logger().Info("Application initialized successfully")
	return app, nil
}

func (app *Application) wire() error {
	factory := NewServiceFactory(app.container)

	app.inventory = factory.CreateInventoryService()
	if err := app.inventory.Load(app.ctx); err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}

	orders, err := factory.CreateOrderManager(app.inventory)
	if err != nil {
		return err
	}
	if err := orders.Rebuild(app.ctx); err != nil {
		return err
	}

	app.consumer = factory.CreateConsumerService(app.inventory)
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.container.Config().HTTP.Port),
		Handler:           otelhttp.NewHandler(factory.CreateRouter(app.inventory, orders), config.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run serves HTTP, consumes the inventory feed and releases idle carts until
// the context is cancelled or one of them fails.
func (app *Application) Run() error {
	cfg := app.container.Config()
	logger := app.container.Logger()
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return app.server.Shutdown(shutdownCtx)
	})

	if app.consumer != nil {
		g.Go(func() error {
			return app.consumer.Start(ctx)
		})
	}

	g.Go(func() error {
		return app.inventory.RunCartJanitor(ctx, cfg.Inventory.JanitorInterval, cfg.Inventory.CartTTL)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all application components
func (app *Application) Shutdown() {
	if app.container != nil {
		app.container.Logger().Info("Starting application shutdown...")
	}

	if app.cancel != nil {
		app.cancel()
	}

	if app.container != nil {
		app.container.Shutdown(context.Background())
	}
}
