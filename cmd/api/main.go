package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "tourbook/internal/adapters/http_server"
	"tourbook/internal/adapters/mq"
	"tourbook/internal/adapters/observability"
	"tourbook/internal/adapters/payments"
	redisad "tourbook/internal/adapters/redis"
	"tourbook/internal/app"
	"tourbook/internal/domain"
	"tourbook/internal/shared"
	"tourbook/internal/storage/memory"
	mysqlrepo "tourbook/internal/storage/mysql"
)

// stores groups the ports so either backend can be wired the same way.
type stores struct {
	hotels   domain.HotelRepository
	points   domain.MeetingPointRepository
	tours    domain.TourRepository
	bookings domain.BookingRepository
	payments domain.PaymentRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel, "tourbook-api")

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "tourbook-api")
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// storage
	var st stores
	switch {
	case cfg.MySQLDSN != "":
		db, err := mysqlrepo.Open(cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database failed")
		}
		defer db.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		log.Info().Msg("database connection ok")
		repo := mysqlrepo.New(db).WithTimeout(cfg.StorageTimeout())
		st = stores{repo, repo, repo, repo, repo}
	case cfg.IsDev():
		mem := memory.New()
		seedDev(mem)
		log.Warn().Msg("MYSQL_DSN empty; using in-memory store")
		st = stores{mem, mem, mem, mem, mem}
	default:
		log.Fatal().Msg("MYSQL_DSN is required outside dev")
	}

	// tour reads go through redis when configured
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable; continuing, reads fall through to storage")
		}
		cache = rc
	}
	tours := app.NewTourCatalog(st.tours, cache, cfg.CacheTTLDuration())

	// domain events and refund hand-off go to the broker when configured
	var (
		events  domain.EventPublisher
		refunds domain.RefundRequester
	)
	if cfg.AMQPURL != "" {
		pub, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connect failed")
		}
		defer pub.Close()
		events, refunds = pub, pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("event publisher ready")
	}

	bookings := app.NewBookingLifecycleManager(app.BookingManagerDeps{
		Tours:         tours,
		Hotels:        st.hotels,
		MeetingPoints: st.points,
		Bookings:      st.bookings,
		Events:        events,
		Refunds:       refunds,
	}, log.Logger.With().Str("component", "bookings").Logger())

	reconciler := app.NewPaymentReconciler(app.PaymentReconcilerDeps{
		Tours:         tours,
		Hotels:        st.hotels,
		MeetingPoints: st.points,
		Bookings:      st.bookings,
		Payments:      st.payments,
		Events:        events,
	}, log.Logger.With().Str("component", "payments").Logger())

	tickets := app.NewTicketValidationService(st.bookings, nil, log.Logger.With().Str("component", "tickets").Logger())
	geo := app.NewGeoAssignmentEngine(st.hotels, st.points, cfg.AssignWorkers, log.Logger.With().Str("component", "geo").Logger())

	// http
	srv := server.New(server.TrustProxyHeaders(cfg.TrustProxy))
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Bookings:      bookings,
		Payments:      reconciler,
		Tickets:       tickets,
		Geo:           geo,
		MeetingPoints: st.points,
		Webhooks:      payments.NewVerifier(cfg.WebhookSecret, cfg.WebhookToleranceDuration()),
		Auth:          server.NewAuthenticator(cfg.JWTSecret),
		VerifyLimit:   server.NewIPRateLimiter(cfg.VerifyRPS, cfg.VerifyBurst),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

// seedDev gives the in-memory store something to book against locally.
func seedDev(s *memory.Store) {
	lat, lon := 36.4166, 25.4322
	s.PutTour(domain.Tour{
		ID:            "demo-caldera",
		Title:         "Caldera sunset cruise",
		Price:         100,
		ChildPrice:    50,
		DurationHours: 5,
		Published:     true,
	})
	s.PutMeetingPoint(domain.MeetingPoint{
		ID:     "demo-fira",
		Name:   "Fira bus station",
		Region: domain.RegionCentral,
		Lat:    &lat,
		Lon:    &lon,
	})
	s.PutMeetingPoint(domain.MeetingPoint{
		ID:            "demo-oia",
		Name:          "Oia main square",
		Region:        domain.RegionNorth,
		GoogleMapsURL: "https://www.google.com/maps/place/Oia/@36.4618,25.3753,17z",
	})
	s.PutHotel(domain.Hotel{ID: "demo-hotel", Name: "Aegean View", Region: domain.RegionCentral})
}
