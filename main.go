package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"

	"ms-boxoffice/internal/analytics"
	"ms-boxoffice/internal/api"
	"ms-boxoffice/internal/auth"
	"ms-boxoffice/internal/availability"
	"ms-boxoffice/internal/catalog"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/database/migrations"
	"ms-boxoffice/internal/events"
	"ms-boxoffice/internal/kafka"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/order"
	orderdb "ms-boxoffice/internal/order/db"
	"ms-boxoffice/internal/order/memstore"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/payment/gateway"
	"ms-boxoffice/internal/pricing"
	"ms-boxoffice/internal/seatguard"
	"ms-boxoffice/internal/seatlock"
	"ms-boxoffice/internal/sse"
	"ms-boxoffice/internal/tickets"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < retries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", retries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	if cfg.AutoMigrate {
		runner := migrations.NewRunner(cfg.DSN, migrations.Options{Dir: cfg.MigrationsDir}, log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("migrations failed: %v", err))
		}
		if err := runner.Close(); err != nil {
			log.Warn("DATABASE", err.Error())
		}
	}
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 10,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func loadCatalog(ctx context.Context, cfg config.CatalogConfig, bunDB *bun.DB, log *logger.Logger) catalog.Provider {
	if cfg.Source == "file" {
		cat, err := catalog.LoadFile(cfg.File)
		if err != nil {
			log.Fatal("CATALOG", fmt.Sprintf("load %s: %v", cfg.File, err))
		}
		log.Info("CATALOG", fmt.Sprintf("Catalog loaded from %s", cfg.File))
		return cat
	}

	d := &catalog.DB{Bun: bunDB}
	f, err := os.Open(cfg.File)
	if errors.Is(err, os.ErrNotExist) {
		return d
	}
	if err != nil {
		log.Fatal("CATALOG", err.Error())
	}
	defer f.Close()
	seed, err := catalog.DecodeSeed(f)
	if err != nil {
		log.Fatal("CATALOG", fmt.Sprintf("decode %s: %v", cfg.File, err))
	}
	if err := d.Import(ctx, seed); err != nil {
		log.Fatal("CATALOG", fmt.Sprintf("import seed: %v", err))
	}
	log.Info("CATALOG", fmt.Sprintf("Catalog seed %s imported into PostgreSQL", cfg.File))
	return d
}

func newPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) events.Publisher {
	switch cfg.EventsBackend {
	case "kafka":
		topics := []string{cfg.Kafka.Topics.OrderCreated, cfg.Kafka.Topics.OrderUpdated, cfg.Kafka.Topics.SeatStatus, cfg.Kafka.Topics.PaymentEvents}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		log.Info("KAFKA", "Kafka producer initialized")
		return kafka.NewProducer(cfg.Kafka.Brokers, log)
	case "amqp":
		p, err := events.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			log.Fatal("AMQP", fmt.Sprintf("connect: %v", err))
		}
		return p
	default:
		log.Info("EVENTS", "Event publishing disabled")
		return events.Noop{}
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.Verifier {
	switch {
	case cfg.OIDCIssuer != "":
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.ClientID)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.OIDCIssuer))
		return v
	case cfg.JWTSecret != "":
		log.Info("AUTH", "Verifying HS256 tokens with the shared secret")
		return auth.NewHMACVerifier(cfg.JWTSecret)
	default:
		if cfg.Required {
			log.Fatal("AUTH", "AUTH_REQUIRED is set but neither OIDC_ISSUER nor JWT_SECRET is configured")
		}
		log.Warn("AUTH", "No token verifier configured, only anonymous access is possible")
		return nil
	}
}

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(logger.Options{Dir: cfg.Log.Dir, Level: logger.ParseLevel(cfg.Log.Level)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	log.Info("APP", "Starting box office initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}
	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("BOOKING_TIMEZONE: %v", err))
	}

	var bunDB *bun.DB
	if cfg.Booking.OrderStore == "postgres" || cfg.Catalog.Source == "postgres" {
		bunDB = connectPostgres(cfg.Database, log)
		defer bunDB.Close()
	}

	cat := loadCatalog(ctx, cfg.Catalog, bunDB, log)

	var lockStore seatlock.Store
	if cfg.Booking.LockBackend == "redis" {
		client := connectRedis(ctx, cfg.Redis, log)
		defer client.Close()
		rs := seatlock.NewRedis(client, cfg.Booking.SeatLockTTL)
		rs.Retention = cfg.Booking.SeatLockRetention
		lockStore = rs
	} else {
		ms := seatlock.NewMemory()
		ms.Retention = cfg.Booking.SeatLockRetention
		lockStore = ms
	}

	var orderStore order.Store
	if cfg.Booking.OrderStore == "postgres" {
		orderStore = &orderdb.DB{Bun: bunDB}
	} else {
		orderStore = memstore.New()
	}
	log.Info("APP", fmt.Sprintf("Locks: %s, orders: %s, catalog: %s, events: %s, gateway: %s",
		cfg.Booking.LockBackend, cfg.Booking.OrderStore, cfg.Catalog.Source, cfg.EventsBackend, cfg.Payment.Gateway))

	publisher := newPublisher(ctx, cfg, log)
	defer publisher.Close()

	emitter := events.NewEmitter(publisher, events.Topics{
		OrderCreated: cfg.Kafka.Topics.OrderCreated,
		OrderUpdated: cfg.Kafka.Topics.OrderUpdated,
		SeatStatus:   cfg.Kafka.Topics.SeatStatus,
	}, clk, log)
	seatEvents := sse.NewSeatEventEmitter()
	emitter.OnSeats(seatEvents.Emit)

	var gw gateway.Gateway
	var mock *gateway.Mock
	if cfg.Payment.Gateway == "stripe" {
		s, err := gateway.NewStripe(cfg.Payment.StripeSecretKey, log)
		if err != nil {
			log.Fatal("PAYMENT", err.Error())
		}
		gw = s
	} else {
		mock = gateway.NewMock(cfg.Payment.PublicBaseURL)
		gw = mock
	}

	guard := seatguard.New()
	engine := pricing.NewEngine(cat, pricing.Config{
		ServiceFeeRate: cfg.Booking.ServiceFeeRate,
		DefaultPrices: map[models.SeatType]int64{
			models.SeatStandard:   cfg.Booking.DefaultPriceStandard,
			models.SeatVIP:        cfg.Booking.DefaultPriceVIP,
			models.SeatAccessible: cfg.Booking.DefaultPriceAccess,
		},
		Location: loc,
	})

	orders := &order.Service{
		Store:    orderStore,
		Locks:    lockStore,
		Guard:    guard,
		Catalog:  cat,
		Pricing:  engine,
		Gateway:  gw,
		Events:   emitter,
		Clock:    clk,
		OrderTTL: cfg.Booking.OrderTTL,
		Currency: cfg.Booking.Currency,
		Logger:   log,
	}
	locks := &seatlock.Service{
		Store:     lockStore,
		Guard:     guard,
		Occupancy: orderStore,
		Layout:    cat,
		Clock:     clk,
		TTL:       cfg.Booking.SeatLockTTL,
		Notifier:  emitter,
		Logger:    log,
	}
	payments := &payment.Handler{Payments: orderStore, Orders: orders, Gateway: gw, Logger: log}

	ticketSecret := cfg.Auth.TicketSecret
	if ticketSecret == "" {
		ticketSecret = uuid.NewString()
		log.Warn("TICKETS", "TICKET_SECRET not set, tickets issued now will not verify after a restart")
	}
	issuer, err := tickets.NewIssuer(ticketSecret)
	if err != nil {
		log.Fatal("TICKETS", fmt.Sprintf("ticket issuer: %v", err))
	}

	handler := api.NewHandler(api.Handler{
		Orders:              orders,
		Locks:               locks,
		Availability:        &availability.Calculator{Layout: cat, Occupancy: orderStore, Locks: lockStore, Clock: clk, Logger: log},
		Payments:            payments,
		SeatEvents:          seatEvents,
		Tickets:             issuer,
		Sales:               &analytics.Service{Source: orderStore, Location: loc},
		MockGateway:         mock,
		StripeWebhookSecret: cfg.Payment.StripeWebhookSecret,
		Logger:              log,
	})
	authn := auth.Middleware(newVerifier(ctx, cfg.Auth, log), cfg.Auth.Required, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Router(authn),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Box office running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return locks.RunSweeper(gctx, cfg.Booking.SweepInterval)
	})
	g.Go(func() error {
		return orders.RunSweeper(gctx, cfg.Booking.SweepInterval)
	})
	if cfg.Kafka.ConsumerGroup != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentEvents, cfg.Kafka.ConsumerGroup, log)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx, func(ctx context.Context, msg segkafka.Message) error {
				return payments.HandleNotification(ctx, msg.Value)
			})
		})
	}

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		log.Error("APP", err.Error())
		return
	}
	log.Info("APP", "Box office shutdown complete")
}
