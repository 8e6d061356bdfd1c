package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/cache"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/db"
	attendancegrpc "rollcall/attendance/internal/grpc"
	internalhttp "rollcall/attendance/internal/http"
	"rollcall/attendance/internal/jobs"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/notify"
	"rollcall/attendance/internal/reports"
	"rollcall/attendance/internal/roster"
	"rollcall/attendance/internal/storage"
	"rollcall/attendance/internal/users"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)
	loc := cfg.Location()
	clk := clock.Real{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	store := db.NewStore(pool)

	var configs attendance.ConfigStore = store.Configs()
	var locker jobs.Locker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		configs = cache.NewConfigCache(configs, redisClient, cfg.ConfigCacheTTL, logger)
		locker = cache.NewSweepLock(redisClient, cfg.SweepLockTTL)
	}

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.SMTPEnabled() {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	}
	notifier := notify.NewNotifier(mailer, cfg.NotifyTimeout, logger)

	var photos users.PhotoStore
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatalf("s3 init failed: %v", err)
		}
		photos = s3Store
	}

	attendanceSvc := attendance.NewService(store.Ledger(), store.Queries, configs, store.Queries, clk, loc, logger)
	reportsSvc := reports.NewService(store.Queries, attendanceSvc, attendanceSvc.Today)
	rosterSvc := roster.NewService(store.Queries, clk, loc, logger)
	usersSvc := users.NewService(store.Queries, notifier, photos, users.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.AccessTokenTTL,
	}, users.PhotoLimits{MaxBytes: cfg.PhotoMaxBytes, Size: cfg.PhotoSize}, clk, logger)

	sweeper := jobs.NewSweeper(store.Ledger(), store.Queries, store.Queries, attendanceSvc, clk, loc, logger)
	if locker != nil {
		sweeper = sweeper.WithLocker(locker)
	}

	var scheduler *jobs.Scheduler
	if cfg.SweepEnabled {
		scheduler = jobs.NewScheduler(sweeper, loc, cfg.SweepTimeout, logger, logger.StdLogger(slog.LevelWarn))
		attendanceSvc.OnConfigChange(scheduler.OnConfigChange)
		current, err := attendanceSvc.Config(ctx)
		if err != nil {
			logger.Warn(ctx, "sweep not scheduled, no attendance config", "error", err)
		} else {
			scheduler.Reschedule(current.CloseTime)
		}
		scheduler.Start(ctx)
		logger.Info(ctx, "absentee sweep scheduled", "next_run", scheduler.Next())
	}

	server := internalhttp.NewServer(cfg, internalhttp.Services{
		Attendance: attendanceSvc,
		Reports:    reportsSvc,
		Roster:     rosterSvc,
		Users:      usersSvc,
		Sweeper:    sweeper,
		Scheduler:  scheduler,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		grpcServer, err = attendancegrpc.NewServer(attendancegrpc.NewKioskServer(attendanceSvc, reportsSvc, logger), cfg.ServiceAuthToken)
		if err != nil {
			log.Fatalf("grpc init failed: %v", err)
		}
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				log.Fatalf("grpc listen error: %v", err)
			}
			logger.Info(ctx, "attendance grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(listener); err != nil {
				log.Fatalf("grpc server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info(ctx, "attendance http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown error", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "sweep still running at shutdown", "error", err)
		}
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "pending notifications dropped", "error", err)
	}
}
