package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/common/config"
	"github.com/synaptica-ai/vision-uploader/pkg/common/database"
	"github.com/synaptica-ai/vision-uploader/pkg/common/kafka"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
	"github.com/synaptica-ai/vision-uploader/pkg/worker"
)

func main() {
	logger.Init()

	cfg, err := config.LoadFile(os.Getenv("VISION_CONFIG_FILE"))
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	client, err := transport.New(transport.ConfigFrom(cfg))
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to create service client")
	}

	opts := []acquisition.Option{
		acquisition.WithTimeout(cfg.GetTimeout),
		acquisition.WithRetryInterval(cfg.RetryInterval),
	}
	if cfg.RedisEnabled {
		rdb, err := database.GetRedis(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to redis")
		}
		defer database.CloseRedis()
		opts = append(opts, acquisition.WithCache(acquisition.NewRedisCache(rdb, cfg.ResultCacheTTL)))
	}
	acquirer := acquisition.NewAcquirer(client, opts...)

	var store worker.Store
	if cfg.PostgresEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer database.ClosePostgres()

		repo := acquisition.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate result tables")
		}
		store = repo
	}

	var publisher worker.Publisher
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg, cfg.ResultAcquiredTopic)
		defer producer.Close()
		publisher = producer
	}

	svc := worker.NewService(acquirer, store, publisher)
	handler := worker.NewHTTPHandler(svc)

	router := mux.NewRouter()
	router.Use(worker.Recovery, worker.Logging)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.GetTimeout + cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Result Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(cfg, cfg.UploadedTopic, cfg.KafkaGroupID)
		defer consumer.Close()

		go func() {
			if err := consumer.Consume(ctx, svc.HandleEvent); err != nil && err != context.Canceled {
				logger.Log.WithError(err).Error("event consumer stopped")
			}
		}()
	} else {
		logger.Log.Warn("kafka disabled, results are only acquired on request")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Result Worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Result Worker stopped")
}
