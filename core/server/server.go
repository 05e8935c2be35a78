package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"meetpact/core/cache"
	"meetpact/core/calendar"
	"meetpact/core/config"
	"meetpact/core/database"
	"meetpact/core/logger"
	"meetpact/core/middleware"
	"meetpact/core/storage"
	"meetpact/core/worker"
	"meetpact/modules/agent"
	agentrepo "meetpact/modules/agent/repository"
	"meetpact/modules/channel"
	"meetpact/modules/negotiation"
	negrepo "meetpact/modules/negotiation/repository"
	"meetpact/modules/notification"
	"meetpact/modules/preference"
	prefservice "meetpact/modules/preference/service"
)

// Run wires the whole application: config, logging, Postgres, Redis, the
// HTTP modules, the background worker, and a graceful shutdown path.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.LogLevel)

	dbConn, err := database.InitDB(database.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	db := &dbConn

	redisCache, err := cache.NewCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisCache.Close()

	mw := middleware.NewMiddleware(redisCache)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())

	tasks := worker.NewClient(cfg.Redis)
	defer tasks.Close()

	// The calendar collaborator is optional; without it respect_calendar
	// rules simply never match.
	var calendarChecker prefservice.CalendarChecker
	if c := calendar.NewClient(cfg.Calendar); c != nil {
		calendarChecker = c
	}

	notifier := notification.Init(e, db, mw)
	negotiationSvc := negotiation.Init(e, db, mw, notifier, tasks)
	negotiationRepo := negrepo.NewNegotiationRepository(db)
	preferenceSvc := preference.Init(e, db, mw, negotiationRepo, calendarChecker)
	channelSvc := channel.Init(e, db, mw)
	agentSvc := agent.Init(e, db, mw,
		negotiationRepo, negotiationSvc, preferenceSvc, channelSvc,
		calendarChecker, tasks, notifier)

	workerSrv := worker.NewServer(cfg.Redis, worker.Handlers{
		Negotiations: negotiationSvc,
		Preferences:  preferenceSvc,
		Agents:       agentSvc,
		Messages:     agentrepo.NewMessageRepository(db),
		Archiver:     storage.NewArchiver(cfg.Storage),
	})
	go func() {
		if err := workerSrv.Start(); err != nil {
			logger.Error("Server:worker", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Server:http", err)
		}
	}()
	logger.Info("Server:started", "addr", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("Server:shutting down")

	workerSrv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}
