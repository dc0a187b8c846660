package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailgate/internal/config"
	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/inspect"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/runtime"
)

type inspectConfig struct {
	configPath string
	id         string
	jsonOut    string
	saveDir    string
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailgate-inspect failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() inspectConfig {
	configPath := flag.String("config", config.DefaultPath(), "mailgate YAML config (optional)")
	id := flag.String("id", "", "Gmail message id to inspect")
	jsonOut := flag.String("json", "", "write JSON report to path")
	saveDir := flag.String("save", "", "download attachments into this directory")
	flag.Parse()

	return inspectConfig{
		configPath: *configPath,
		id:         *id,
		jsonOut:    *jsonOut,
		saveDir:    *saveDir,
	}
}

func run(cfg inspectConfig) error {
	if cfg.id == "" {
		return errors.New("-id is required")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnvFiles(".env"); err != nil {
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

	store, err := runtime.OpenGatewayStore(ctx, runtime.AuthOptions{
		ClientSecret: conf.Auth.ClientSecret,
		Keyring: runtime.KeyringConfig{
			Backend: conf.Auth.KeyringBackend,
			Dir:     conf.Auth.KeyringDir,
			Key:     conf.Auth.TokenKey,
		},
	}, runtime.StoreOptions{User: conf.Gmail.User, Timeout: conf.Gmail.Timeout}, logger)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	svc := inspect.NewService(mailbox.NewFetcher(store), logger)
	rep, err := svc.Run(ctx, gmail.MessageID(cfg.id))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", cfg.id, err)
	}
	if cfg.saveDir != "" {
		if saveErr := svc.SaveAttachments(ctx, &rep, cfg.saveDir); saveErr != nil {
			return fmt.Errorf("save attachments: %w", saveErr)
		}
	}

	if printErr := inspect.PrintHuman(rep, os.Stdout); printErr != nil {
		return fmt.Errorf("print report: %w", printErr)
	}
	if cfg.jsonOut == "" {
		return nil
	}
	if writeErr := inspect.WriteJSON(rep, cfg.jsonOut); writeErr != nil {
		return fmt.Errorf("write json: %w", writeErr)
	}
	return nil
}
