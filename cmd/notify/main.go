package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/siriusgroup/wa-notify/internal/api"
	"github.com/siriusgroup/wa-notify/internal/cache"
	"github.com/siriusgroup/wa-notify/internal/config"
	"github.com/siriusgroup/wa-notify/internal/model"
	"github.com/siriusgroup/wa-notify/internal/monitor"
	"github.com/siriusgroup/wa-notify/internal/relay"
	"github.com/siriusgroup/wa-notify/internal/repo"
	"github.com/siriusgroup/wa-notify/internal/service"
	"github.com/siriusgroup/wa-notify/internal/template"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("failed to open postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping postgres", "err", err)
		os.Exit(1)
	}

	logs := repo.NewPostgresLogStore(db)

	var summaries cache.SummaryCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		summaries = cache.NewRedisSummaryCache(rdb, cfg.Redis.TTL)
		slog.Info("batch summary cache enabled", "addr", cfg.Redis.Address)
	}

	client := relay.NewClient(cfg.Relay.URL, cfg.Relay.Token)

	dispatcher := service.NewDispatcher(template.MustDefaults(), client, service.Options{
		DefaultCountry: cfg.Dispatch.DefaultCountry,
		PickupAddress:  cfg.Dispatch.PickupAddress,
		PickupHours:    cfg.Dispatch.PickupHours,
		DryRunDefault:  cfg.Dispatch.DryRunDefault,
		TestMode:       cfg.Dispatch.TestMode,
		TestPhone:      cfg.Dispatch.TestPhone,
		MaxRecipients:  cfg.Dispatch.MaxRecipients,
	}).WithLimiter(
		rate.NewLimiter(rate.Limit(cfg.Dispatch.RatePerMinute)/60.0, 1),
	).WithOutcomeHook(func(ctx context.Context, batchID, templateKey string, o model.Outcome) error {
		return logs.Append(ctx, model.LogEntry{
			BatchID:     batchID,
			PhoneRaw:    o.Recipient.Phone,
			PhoneE164:   o.PhoneE164,
			TemplateKey: templateKey,
			MessageText: o.MessageText,
			Status:      o.Status,
			WaMessageID: o.WaMessageID,
			ErrorText:   o.Error,
			SentAt:      o.Timestamp,
		})
	})

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon, err = monitor.New(cfg.Monitor.Interval, client.Health)
		if err != nil {
			slog.Error("failed to create relay monitor", "err", err)
			os.Exit(1)
		}
		mon.Start()
		defer mon.Stop()
	}

	handler := api.NewHandler(dispatcher, logs, summaries, mon)

	slog.Info("wa-notify starting",
		"addr", cfg.Server.Address,
		"relay", cfg.Relay.URL,
		"rate_per_minute", cfg.Dispatch.RatePerMinute,
		"test_mode", cfg.Dispatch.TestMode,
		"monitor", cfg.Monitor.Enabled,
	)

	if err := http.ListenAndServe(cfg.Server.Address, loggingMiddleware(api.Router(handler))); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}
