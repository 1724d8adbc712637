package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"secretary/internal/bot"
	"secretary/internal/cache"
	"secretary/internal/calendar"
	"secretary/internal/config"
	"secretary/internal/httpapi"
	"secretary/internal/logging"
	"secretary/internal/repository"
	"secretary/internal/service"
	"secretary/internal/sheet"
)

const (
	digestTimeout   = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Journal: cfg.LogJournal,
	})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file found, using environment")
	}

	err = run(cfg, logger)
	if err != nil {
		logger.Error("secretary stopped with error", "error", err)
	} else {
		logger.Info("shutdown complete")
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retrier := cfg.Retrier(logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	users := cache.NewUsers()
	db := repository.NewDB(store, retrier, cfg.Regions(), logger)
	userRepo := repository.NewUserRepository(db, users)
	noteRepo := repository.NewNoteRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	cal, err := openCalendar(ctx, cfg, logger)
	if err != nil {
		return err
	}

	taskSvc := service.NewTaskService(taskRepo, cal, cfg.DefaultTimezone, logger)
	reminderSvc := service.NewReminderService(taskRepo, cfg.DefaultTimezone)

	telegramBot, err := bot.New(cfg.TelegramToken, bot.Deps{
		Users:           userRepo,
		Notes:           noteRepo,
		Tasks:           taskSvc,
		Reminders:       reminderSvc,
		DefaultTimezone: cfg.DefaultTimezone,
	}, cfg.HandlerWorkers, logger)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	// Failure here is not fatal: every repository call re-checks lazily.
	if err := db.EnsureStructures(ctx); err != nil {
		logger.Warn("spreadsheet structures not ready", "error", err)
	}

	reminders := service.NewReminderScheduler(userRepo, taskRepo, telegramBot, reminderSvc, cfg.ReminderInterval, logger)

	if cfg.DigestTime != "" {
		digests := service.NewDigestService(userRepo, reminderSvc, telegramBot, logger)
		daily := service.NewSchedulerService(cfg.Location(), logger)
		if _, err := daily.ScheduleDaily(cfg.DigestTime, func() {
			jobCtx, cancel := context.WithTimeout(ctx, digestTimeout)
			defer cancel()
			sent, err := digests.SendDigests(jobCtx, time.Now())
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("daily digest failed", "error", err)
				return
			}
			logger.Info("daily digest sent", "users", sent)
		}); err != nil {
			return fmt.Errorf("schedule digest: %w", err)
		}
		daily.Start()
		defer daily.Stop()
		logger.Info("daily digest scheduled", "at", cfg.DigestTime, "timezone", cfg.DefaultTimezone)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return telegramBot.Start(gctx) })
	g.Go(func() error { return reminders.Run(gctx) })

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      httpapi.NewHandler(db, reminders, users).Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin server listening", "addr", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("secretary started", "backend", cfg.StoreBackend, "calendar", cfg.CalendarProvider)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (sheet.Client, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		db, err := sheet.NewSQLite(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		return db, db.Close, nil
	case config.BackendMemory:
		return sheet.NewMemory(), noop, nil
	default:
		gs, err := sheet.NewGoogleSheets(ctx, cfg.SheetsID, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("google sheets store: %w", err)
		}
		return gs, noop, nil
	}
}

func openCalendar(ctx context.Context, cfg config.Config, logger *slog.Logger) (calendar.Client, error) {
	switch cfg.CalendarProvider {
	case config.CalendarGoogle:
		cal, err := calendar.NewGoogle(ctx, cfg.CalendarID, cfg.CredentialsFile, cfg.Retrier(logger))
		if err != nil {
			return nil, fmt.Errorf("google calendar: %w", err)
		}
		return cal, nil
	case config.CalendarCalDAV:
		cal, err := calendar.NewCalDAV(ctx, calendar.CalDAVConfig{
			URL:      cfg.CalDAVURL,
			Login:    cfg.CalDAVLogin,
			Password: cfg.CalDAVPassword,
			Name:     cfg.CalDAVCalendar,
			Path:     cfg.CalDAVCalendarPath,
		}, cfg.CalDAVRetrier(logger), nil)
		if err != nil {
			return nil, fmt.Errorf("caldav calendar: %w", err)
		}
		return cal, nil
	default:
		return calendar.Disabled{}, nil
	}
}
