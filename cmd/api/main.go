package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teleconsult/internal/audit"
	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/config"
	"teleconsult/internal/coordinator"
	"teleconsult/internal/httpapi"
	"teleconsult/internal/pricing"
	"teleconsult/internal/reporting"
	"teleconsult/internal/settlement"
	"teleconsult/internal/signaling"
	"teleconsult/internal/wallet"
	"teleconsult/pkg/logger"
	"teleconsult/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Services
	directory := pricing.NewService(pricing.NewPostgresRepo(db))
	callSvc := calls.NewService(
		calls.NewPostgresRepo(db),
		directory,
		calls.NewRedisLimiter(rdb, cfg.Calls.MaxActivePerRequester, cfg.Calls.ActiveSlotTTL),
		calls.Options{
			MaxActivePerRequester: cfg.Calls.MaxActivePerRequester,
			PendingTTL:            cfg.Calls.MaxPendingWait,
		},
	)
	walletSvc := wallet.NewService(db)
	historySvc := reporting.NewService(reporting.NewPostgresRepo(db))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	settler := settlement.NewSync(callSvc, historySvc, walletSvc, auditSvc, log)
	coord := coordinator.New(callSvc, settler, cfg.Calls, log)
	callSvc.TrackSessions(coord)
	sweeper := coordinator.NewSweeper(coord, cfg.Calls.SweepInterval, log)
	sweeper.Start(rootCtx)

	handlers := httpapi.Handlers{
		Auth:       authManager,
		AllowLogin: !cfg.IsProduction(),
		Calls:      callSvc,
		Coord:      coord,
		Providers:  directory,
		History:    historySvc,
		Wallet:     walletSvc,
		Audit:      auditSvc,
		EndWait:    cfg.Calls.CommitTimeout + 5*time.Second,
	}
	ws := signaling.NewHandler(coord, authManager, cfg.Signal, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, db, ws)
	registerAPIRoutes(r, handlers, auth.RequireAccessToken(authManager), wallet.RequirePositiveBalance(walletSvc))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	sweeper.Stop()
	settler.Wait()

	if n := len(coord.Unsettled()); n > 0 {
		log.Warn("unsettled calls at shutdown", "count", n)
	}
}
