package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/MailBeacon/config"
	"github.com/BearBump/MailBeacon/internal/api/emails_api"
	"github.com/BearBump/MailBeacon/internal/broker/kafka"
	"github.com/BearBump/MailBeacon/internal/cache/rediscache"
	"github.com/BearBump/MailBeacon/internal/services/emails"
	"github.com/BearBump/MailBeacon/internal/storage/pgemail"
	"github.com/BearBump/MailBeacon/internal/watch"
)

type beaconAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     beaconAPIOpts
	svc      *emails.Service
	api      *emails_api.EmailsAPI
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapBeaconAPI() *beaconAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Beacon.APIAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Beacon.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "beacon-api"
	}
	topic := cfg.Kafka.EmailSeenTopicName
	if topic == "" {
		topic = "email.seen"
	}
	statsTTL := time.Duration(cfg.Beacon.StatsTTLSeconds) * time.Second
	if statsTTL <= 0 {
		statsTTL = 10 * time.Minute
	}
	pixelBaseURL := cfg.Beacon.PixelBaseURL
	if pixelBaseURL == "" {
		pixelBaseURL = "http://localhost:8081"
	}

	st := mustOpenPostgresWithRetry(pgConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	hub := watch.NewHub()
	svc := emails.New(st, rc, hub, statsTTL)
	api := emails_api.New(svc, pixelBaseURL).
		WithRateLimiter(rl, int64(cfg.Beacon.CreateRateLimitPerMinute))

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &beaconAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: beaconAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		api:      api,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgemail.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgemail.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (a *beaconAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *beaconAPIApp) Run() error {
	return runBeaconAPI(a.ctx, a.opts, a.svc, a.api, a.consumer)
}
