package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Skotchmaster/member_auth/internal/config"
	"github.com/Skotchmaster/member_auth/internal/db"
	"github.com/Skotchmaster/member_auth/internal/events"
	"github.com/Skotchmaster/member_auth/internal/housekeeping"
	"github.com/Skotchmaster/member_auth/internal/httpserver"
	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/metrics"
	"github.com/Skotchmaster/member_auth/internal/middleware/authn"
	loggingmw "github.com/Skotchmaster/member_auth/internal/middleware/logging"
	"github.com/Skotchmaster/member_auth/internal/oauth"
	"github.com/Skotchmaster/member_auth/internal/repo"
	"github.com/Skotchmaster/member_auth/internal/service"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close(gdb)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	gormRepo := repo.New(gdb)

	key, err := tokens.KeyFromBase64(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("JWT_SECRET: %v", err)
	}
	codec, err := tokens.New(key, gormRepo, tokens.Options{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer publisher.Close()

	registry, err := oauth.NewRegistry(cfg.OAuth, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		log.Fatalf("oauth providers: %v", err)
	}

	svc := &service.MemberService{
		Repo:    gormRepo,
		Codec:   codec,
		Social:  oauth.NewNormalizer(gormRepo),
		Events:  publisher,
		Metrics: m,
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Use(httpserver.Common()...)
	e.Use(loggingmw.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		MemberHandler: &httpserver.MemberHTTP{
			Svc:           svc,
			AccessHeader:  cfg.AccessHeader,
			RefreshHeader: cfg.RefreshHeader,
		},
		OAuthHandler: &httpserver.OAuthHTTP{
			Registry:      registry,
			Svc:           svc,
			RedirectURI:   cfg.OAuth.RedirectURI,
			FailureURI:    cfg.OAuth.FailureURI,
			SecureCookies: strings.HasPrefix(cfg.OAuth.CallbackBaseURL, "https://"),
		},
		Auth: &authn.Authenticator{
			Codec:         codec,
			Members:       gormRepo,
			Reissuer:      svc,
			AccessHeader:  cfg.AccessHeader,
			RefreshHeader: cfg.RefreshHeader,
			ReissuePath:   httpserver.ReissuePath,
			SkipPrefixes:  httpserver.SkipPrefixes,
			Metrics:       m,
		},
		Metrics: metrics.Handler(reg),
		Ready: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	if cfg.SessionSweepInterval > 0 {
		go housekeeping.NewSweeper(gormRepo, logger, m).Start(ctx, cfg.SessionSweepInterval)
	}

	go func() {
		logger.Info("server_starting", "addr", cfg.AuthAddr, "providers", registry.Providers())
		if err := e.Start(cfg.AuthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("echo start: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown", "error", err)
	}
}
