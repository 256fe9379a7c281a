package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"transit-pulse/internal/broadcast"
	"transit-pulse/internal/general/config"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/general/rabbitmq"
	"transit-pulse/internal/monitor"
	"transit-pulse/internal/routing"
	consensushandler "transit-pulse/internal/software/consensus/handler"
	consensusservice "transit-pulse/internal/software/consensus/service"
	recommendhandler "transit-pulse/internal/software/recommend/handler"
	recommendservice "transit-pulse/internal/software/recommend/service"
	reporthandler "transit-pulse/internal/software/report/handler"
	reportservice "transit-pulse/internal/software/report/service"
	rewardhandler "transit-pulse/internal/software/reward/handler"
	rewardservice "transit-pulse/internal/software/reward/service"
	triphandler "transit-pulse/internal/software/trip/handler"
	tripservice "transit-pulse/internal/software/trip/service"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Run wires the whole service and blocks until ctx is canceled or the HTTP
// server fails.
func Run(ctx context.Context, prefetch, maxConcurrent int) error {
	log := logger.New("tracker-service")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile("./config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load config file", err, nil)
		return err
	}
	log.Info(ctx, "config_loaded", "Configuration loaded successfully", nil)

	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()
	pub := rabbitmq.NewMQPublisher(rmq)

	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	collector := metrics.NewCollector()
	go func() {
		if err := collector.Serve(ctx, cfg.HTTP.MetricsPort); err != nil {
			log.Error(ctx, "metrics_server_failed", "Metrics endpoint terminated with error", err, nil)
		}
	}()

	uow := postgres.NewUnitOfWork(pool)
	tripRepo := postgres.NewTripRepo()
	routeRepo := postgres.NewRouteRepo()
	riderRepo := postgres.NewRiderRepo()
	rewardRepo := postgres.NewRewardRepo()
	traceRepo := postgres.NewTraceRepo()
	reportRepo := postgres.NewReportRepo()

	hub := broadcast.NewHub(log, collector)
	ws := broadcast.NewWSGateway(log, jwtManager, hub)

	roadSnapper := routing.NewClient(log, cfg.Routing.BaseURL, cfg.RoutingTimeout())

	reportSvc := reportservice.NewReportService(log, uow, reportRepo, rewardRepo)
	if err := reportSvc.WarmIndex(ctx); err != nil {
		log.Error(ctx, "report_index_warm_failed", "Failed to warm the nearby report index", err, nil)
		return err
	}

	monitors := monitor.NewManager(log, collector, hub, uow, reportRepo, reportSvc, monitor.Defaults())

	tripSvc := tripservice.NewTripService(log, collector, uow, tripRepo, routeRepo, riderRepo, rewardRepo, traceRepo, hub, pub, monitors)
	monitors.SetEnder(tripSvc)

	consensusSvc := consensusservice.NewConsensusService(log, collector, uow, routeRepo, traceRepo, roadSnapper, pub)
	recommendSvc := recommendservice.NewRecommendService(log, collector, uow, routeRepo, tripRepo)
	rewardSvc := rewardservice.NewRewardService(log, collector, uow, rewardRepo, riderRepo)

	// background consumer draining queued consensus runs
	go func() {
		err := rmq.Consume(ctx, contracts.QueueConsensusBatch, "tracker-consensus", prefetch,
			func(msgCtx context.Context, d amqp.Delivery) error {
				var msg contracts.ConsensusRunMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					log.Error(msgCtx, "consensus_message_malformed", "Dropping unparseable consensus message", err, nil)
					return nil // ack: redelivery cannot fix a bad payload
				}
				msgCtx = log.WithRequestID(msgCtx, msg.CorrelationID)
				return consensusSvc.RunConsensus(msgCtx, msg.RouteID)
			})
		if err != nil && ctx.Err() == nil {
			log.Error(ctx, "consensus_consumer_failed", "Consensus consumer terminated with error", err, nil)
		}
	}()

	mux := http.NewServeMux()
	triphandler.NewTripHTTPHandler(tripSvc, log, jwtManager, monitors, ws).RegisterRoutes(mux)
	recommendhandler.NewRecommendHTTPHandler(recommendSvc, log, jwtManager).RegisterRoutes(mux)
	consensushandler.NewConsensusHTTPHandler(consensusSvc, log, jwtManager).RegisterRoutes(mux)
	reporthandler.NewReportHTTPHandler(reportSvc, log, jwtManager).RegisterRoutes(mux)
	rewardhandler.NewRewardHTTPHandler(rewardSvc, log, jwtManager).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           withConcurrencyLimit(maxConcurrent, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Tracker Service started on port %d", cfg.HTTP.Port),
		map[string]any{"port": cfg.HTTP.Port, "metrics_port": cfg.HTTP.MetricsPort, "max_concurrent": maxConcurrent},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.HTTP.Port})
			return err
		}
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
