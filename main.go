package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"hawkeye-monitor/config"
	"hawkeye-monitor/internal/binance"
	"hawkeye-monitor/internal/bot"
	"hawkeye-monitor/internal/dispatcher"
	"hawkeye-monitor/internal/engine"
	"hawkeye-monitor/internal/logging"
	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/notification"
	"hawkeye-monitor/internal/users"
)

// engineSink bridges the feed's event callbacks onto the engine. The engine
// itself is constructed after the feed, so the pointer is filled in during
// wiring.
type engineSink struct {
	engine *engine.Engine
}

func (s *engineSink) OnTicker(t *models.Ticker)       { s.engine.EvaluateTicker(t) }
func (s *engineSink) OnSpread(sp *models.Spread)      { s.engine.EvaluateSpread(sp) }
func (s *engineSink) OnOrderBook(b *models.OrderBook) { s.engine.EvaluateOrderBook(b) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", true)
		log.Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	logging.Setup(cfg.LogLevel, cfg.LogConsole)
	log.Info().Msg("starting hawkeye monitor")

	userManager, err := users.NewManager(cfg.DataDir, cfg.AdminUserIDs)
	if err != nil {
		log.Error().Err(err).Msg("user store unavailable")
		os.Exit(1)
	}

	telegram := notification.NewTelegram(cfg.Telegram.BotToken)
	email := &notification.Email{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}

	disp := dispatcher.New(userManager, telegram, email)

	sink := &engineSink{}
	feed := binance.NewFeed(binance.NewClient(), sink)
	eng := engine.New(userManager, feed, disp)
	sink.engine = eng
	disp.SetEngine(eng)
	userManager.OnChange(eng.InvalidateUserCache)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := feed.Start(seedCtx); err != nil {
		cancelSeed()
		log.Error().Err(err).Msg("market feed failed to start")
		os.Exit(1)
	}
	cancelSeed()

	disp.Start()

	commandBot := bot.New(telegram, userManager, feed, eng, disp)
	commandBot.Start()

	opsServer := startOpsServer(cfg.OpsAddr, feed)

	log.Info().Str("ops", cfg.OpsAddr).Msg("hawkeye monitor running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	commandBot.Stop()
	feed.Stop()
	disp.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown")
	}

	log.Info().Msg("stopped")
}

// startOpsServer serves liveness and metrics.
func startOpsServer(addr string, feed *binance.Feed) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if !feed.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()
	return srv
}
