package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/joshsymonds/mailgate/internal/config"
	"github.com/joshsymonds/mailgate/internal/gateway"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/metrics"
	"github.com/joshsymonds/mailgate/internal/pop3"
	"github.com/joshsymonds/mailgate/internal/rate"
	"github.com/joshsymonds/mailgate/internal/runtime"
	"github.com/joshsymonds/mailgate/internal/smtpfront"
)

const shutdownTimeout = 10 * time.Second

type gatewayConfig struct {
	configPath string
	envFile    string
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailgate failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() gatewayConfig {
	configPath := flag.String("config", config.DefaultPath(), "YAML config file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	return gatewayConfig{
		configPath: *configPath,
		envFile:    *envFile,
	}
}

func run(cfg gatewayConfig) error {
	if err := config.LoadEnvFiles(cfg.envFile); err != nil {
		return err
	}
	conf, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	logger, err := runtime.NewLogger(conf.Log.Level)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var limiter rate.Limiter
	if conf.Gmail.RPS > 0 {
		bucket := rate.NewTokenBucket(conf.Gmail.RPS, conf.Gmail.Burst)
		limiter = bucket
		defer bucket.Stop()
	}

	store, err := runtime.OpenGatewayStore(ctx,
		runtime.AuthOptions{
			ClientSecret: conf.Auth.ClientSecret,
			Keyring: runtime.KeyringConfig{
				Backend: conf.Auth.KeyringBackend,
				Dir:     conf.Auth.KeyringDir,
				Key:     conf.Auth.TokenKey,
			},
		},
		runtime.StoreOptions{User: conf.Gmail.User, Limiter: limiter, Timeout: conf.Gmail.Timeout},
		logger,
	)
	if err != nil {
		return fmt.Errorf("create gmail store: %w", err)
	}

	label, err := mailbox.ResolveLabel(ctx, store, conf.Gmail.Label)
	if err != nil {
		return fmt.Errorf("resolve inbox label: %w", err)
	}
	logger.Info("serving label", "label", conf.Gmail.Label, "id", label, "max_results", conf.Gmail.MaxResults)

	m := metrics.New()
	svc := gateway.NewService(store, logger, m, gateway.Options{Label: label, MaxResults: conf.Gmail.MaxResults})
	return serve(ctx, conf, svc, m, logger)
}

func serve(ctx context.Context, conf *config.Config, svc *gateway.Service, m *metrics.Metrics, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(name string, err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		fail("metrics", m.Serve(ctx, conf.Metrics.Addr, logger))
	}()

	if conf.POP3.Addr != "" {
		srv := &pop3.Server{
			Addr:     conf.POP3.Addr,
			Username: conf.POP3.Username,
			Password: conf.POP3.Password,
			Open:     func(l *slog.Logger) pop3.Maildrop { return svc.NewSession(l) },
			Logger:   logger,
			Metrics:  m,
		}
		if conf.POP3.Username == "" && conf.POP3.Password == "" {
			logger.Warn("pop3 auth disabled; any USER/PASS is accepted")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail("pop3", srv.ListenAndServe(ctx))
		}()
	}

	if conf.SMTP.Addr != "" {
		srv := smtpfront.New(ctx, smtpfront.Config{
			Addr:            conf.SMTP.Addr,
			Domain:          conf.SMTP.Domain,
			Username:        conf.SMTP.Username,
			Password:        conf.SMTP.Password,
			MaxMessageBytes: conf.SMTP.MaxMessageBytes,
		}, func(l *slog.Logger) smtpfront.Submitter { return svc.NewSession(l) }, logger, m)
		if conf.SMTP.Username == "" {
			logger.Warn("smtp auth disabled; server accepts unauthenticated submissions")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := srv.ListenAndServe()
			if errors.Is(err, smtp.ErrServerClosed) {
				err = nil
			}
			fail("smtp", err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("smtp shutdown", "error", err)
				_ = srv.Close()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return firstErr
}
