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
	"github.com/BearBump/MailBeacon/internal/api/pixel_api"
	"github.com/BearBump/MailBeacon/internal/broker/kafka"
	"github.com/BearBump/MailBeacon/internal/cache/rediscache"
	"github.com/BearBump/MailBeacon/internal/services/confirm"
	"github.com/BearBump/MailBeacon/internal/storage/pgemail"
)

type beaconPixelApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    beaconPixelOpts
	api     *pixel_api.PixelAPI
	closeDB func()
}

func mustBootstrapBeaconPixel() *beaconPixelApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Beacon.PixelAddr
	if httpAddr == "" {
		httpAddr = ":8081"
	}
	topic := cfg.Kafka.EmailSeenTopicName
	if topic == "" {
		topic = "email.seen"
	}

	st := mustOpenPostgresWithRetry(pgConnString(cfg), 60*time.Second)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rl := rediscache.NewRateLimiter(redisAddr)

	svc := confirm.New(st, producer, topic).
		WithFirstOpenOnly(cfg.Beacon.FirstOpenOnly).
		WithRateLimiter(rl, int64(cfg.Beacon.PublishRateLimitPerMinute))

	api := pixel_api.New(svc).WithPixelResponse(cfg.Beacon.PixelResponse)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &beaconPixelApp{
		ctx:    ctx,
		cancel: cancel,
		opts: beaconPixelOpts{
			httpAddr: httpAddr,
		},
		api:     api,
		closeDB: st.Close,
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

func (a *beaconPixelApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *beaconPixelApp) Run() error {
	return runBeaconPixel(a.ctx, a.opts, a.api)
}
