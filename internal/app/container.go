package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"recipestock/internal/config"
	"recipestock/internal/events"
	"recipestock/internal/inventory"
	"recipestock/internal/order"
	"recipestock/internal/platform/kafka"
	"recipestock/internal/platform/observability"
	"recipestock/internal/platform/postgres"
	"recipestock/internal/storage/memory"
	pgstore "recipestock/internal/storage/postgres"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage is what the inventory service and the order manager persist through.
type Storage interface {
	inventory.Store
	order.Store
}

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config             *config.Config
	logger             observability.Logger
	tracer             observability.Tracer
	meter              metric.Meter
	storage            Storage
	pool               *pgxpool.Pool
	messageConsumer    kafka.Consumer
	messageProducer    kafka.Producer
	publisher          events.Publisher
	otelLogShutdown    func(context.Context) error
	otelTraceShutdown  func(context.Context) error
	otelMetricShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewContainerWithConfig(ctx, cfg)
}

// NewContainerWithConfig builds the container from an already loaded configuration.
func NewContainerWithConfig(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		config: cfg,
	}

	if err := container.setupLogger(); err != nil {
		return nil, err
	}
	if err := container.setupObservability(ctx); err != nil {
		container.Shutdown(ctx)
		return nil, err
	}
	if err := container.setupStorage(ctx); err != nil {
		container.Shutdown(ctx)
		return nil, err
	}
	if err := container.setupPublisher(); err != nil {
		container.Shutdown(ctx)
		return nil, err
	}
	return container, nil
}

func (c *Container) setupLogger() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logs, traces and metrics, then
// Kafka with the resulting tracer provider.
func (c *Container) setupObservability(ctx context.Context) error {
	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config.Otel)
	c.logSetupError("logging", err)
	c.otelLogShutdown = otelLogShutdown

	tp, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config.Otel)
	c.logSetupError("tracing", err)
	c.otelTraceShutdown = otelTraceShutdown

	otelMetricShutdown, err := observability.SetupMetricsSDK(ctx, c.config.Otel)
	c.logSetupError("metrics", err)
	c.otelMetricShutdown = otelMetricShutdown

	c.reinitializeLoggerWithOTel()

	c.tracer = otel.Tracer(config.ServiceName)
	c.meter = otel.Meter(config.ServiceName)

	if !c.config.Kafka.Enabled {
		c.logger.Info("Kafka disabled; inventory feed consumer will not run")
		return nil
	}
	var provider trace.TracerProvider = otel.GetTracerProvider()
	if tp != nil {
		provider = tp
	}
	return c.setupKafkaWithTracer(provider)
}

func (c *Container) logSetupError(signal string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, observability.ErrExporterDisabled):
		c.logger.Info("OpenTelemetry export disabled", zap.String("signal", signal))
	default:
		c.logger.Error("Failed to setup OpenTelemetry", zap.String("signal", signal), zap.Error(err))
	}
}

// reinitializeLoggerWithOTel tees the console JSON core with the OTel bridge.
func (c *Container) reinitializeLoggerWithOTel() {
	otelZapCore := otelzap.NewCore(config.ServiceName,
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)

	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(consoleEncoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	logger := zap.New(zapcore.NewTee(otelZapCore, consoleCore),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)

	c.logger = logger
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

// setupKafkaWithTracer wires the feed reader and the events writer.
func (c *Container) setupKafkaWithTracer(tp trace.TracerProvider) error {
	baseReader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{c.config.Kafka.Broker},
		Topic:   c.config.Kafka.FeedTopic,
		GroupID: c.config.Kafka.GroupID,
	})
	reader, err := otelkafka.NewReader(baseReader,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
	)
	if err != nil {
		return fmt.Errorf("kafka reader: %w", err)
	}
	c.messageConsumer = reader

	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(c.config.Kafka.Broker),
		Topic:        c.config.Kafka.EventsTopic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}
	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(c.config.Kafka.EventsTopic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return fmt.Errorf("kafka writer: %w", err)
	}
	c.messageProducer = writer
	return nil
}

func (c *Container) setupStorage(ctx context.Context) error {
	switch c.config.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, c.config.Storage.Postgres, c.logger)
		if err != nil {
			return err
		}
		c.pool = pool
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		c.storage = store
	default:
		c.logger.Info("Using in-memory storage")
		c.storage = memory.New()
	}
	return nil
}

// setupPublisher picks the event brokers; without any, events are only logged.
func (c *Container) setupPublisher() error {
	var pubs events.Multi
	if c.messageProducer != nil {
		pubs = append(pubs, events.NewKafkaPublisher(c.messageProducer, c.logger))
	}
	if c.config.RabbitMQ.Enabled {
		rp, err := events.DialRabbit(c.config.RabbitMQ.URL, c.config.RabbitMQ.Exchange, c.logger)
		if err != nil {
			return err
		}
		pubs = append(pubs, rp)
	}
	switch len(pubs) {
	case 0:
		c.publisher = events.NewLogPublisher(c.logger)
	case 1:
		c.publisher = pubs[0]
	default:
		c.publisher = pubs
	}
	return nil
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to close event publisher", zap.Error(err))
		}
	}
	if c.messageConsumer != nil {
		if err := c.messageConsumer.Close(); err != nil {
			c.logger.Error("Failed to close message consumer", zap.Error(err))
		}
	}
	if c.messageProducer != nil {
		if err := c.messageProducer.Close(); err != nil {
			c.logger.Error("Failed to close message producer", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}

	// Logging goes last so the other providers can still report their errors.
	for _, s := range c.otelShutdowns() {
		if s.fn == nil {
			continue
		}
		if err := s.fn(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel", zap.String("signal", s.signal), zap.Error(err))
		}
	}

	c.logger.Info("Infrastructure shutdown complete")
	// stdout sync fails on some terminals; nothing useful to do about it.
	_ = c.logger.Sync()
}

type otelShutdown struct {
	signal string
	fn     func(context.Context) error
}

// otelShutdowns lists the OTel provider shutdowns in the order they must run.
func (c *Container) otelShutdowns() []otelShutdown {
	return []otelShutdown{
		{signal: "tracing", fn: c.otelTraceShutdown},
		{signal: "metrics", fn: c.otelMetricShutdown},
		{signal: "logging", fn: c.otelLogShutdown},
	}
}

// Getters for accessing infrastructure components
func (c *Container) Config() *config.Config          { return c.config }
func (c *Container) Logger() observability.Logger    { return c.logger }
func (c *Container) Tracer() observability.Tracer    { return c.tracer }
func (c *Container) Meter() metric.Meter             { return c.meter }
func (c *Container) Storage() Storage                { return c.storage }
func (c *Container) MessageConsumer() kafka.Consumer { return c.messageConsumer }
func (c *Container) Publisher() events.Publisher     { return c.publisher }
