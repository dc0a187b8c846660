package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailgate/internal/config"
	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/inspect"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/rate"
	"github.com/joshsymonds/mailgate/internal/runtime"
)

type listConfig struct {
	configPath  string
	gmailctlDir string
	label       string
	maxResults  int
	rps         int
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailgate-list failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() listConfig {
	configPath := flag.String("config", config.DefaultPath(), "mailgate YAML config (optional)")
	gmailctlDir := flag.String("gmailctl-config", "", "reuse a gmailctl auth directory instead of the keyring token")
	label := flag.String("label", "", "label id or name (default from config)")
	maxResults := flag.Int("max", 0, "maximum messages to list (default from config)")
	rps := flag.Int("rps", 4, "max requests per second")
	flag.Parse()

	return listConfig{
		configPath:  *configPath,
		gmailctlDir: *gmailctlDir,
		label:       *label,
		maxResults:  *maxResults,
		rps:         *rps,
	}
}

func run(cfg listConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnvFiles(".env"); err != nil {
		return err
	}
	conf, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	logger := runtime.DefaultLogger()

	var (
		limiter rate.Limiter
		bucket  *rate.TokenBucket
	)
	if cfg.rps > 0 {
		bucket = rate.NewTokenBucket(cfg.rps, 1)
		limiter = bucket
		defer bucket.Stop()
	}
	storeOpts := runtime.StoreOptions{User: conf.Gmail.User, Limiter: limiter, Timeout: conf.Gmail.Timeout}

	var store *runtime.GmailStore
	if cfg.gmailctlDir != "" {
		store, err = runtime.NewGmailctlStore(ctx, cfg.gmailctlDir, storeOpts)
	} else {
		store, err = runtime.OpenGatewayStore(ctx, runtime.AuthOptions{
			ClientSecret: conf.Auth.ClientSecret,
			Keyring: runtime.KeyringConfig{
				Backend: conf.Auth.KeyringBackend,
				Dir:     conf.Auth.KeyringDir,
				Key:     conf.Auth.TokenKey,
			},
		}, storeOpts, logger)
	}
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	labelArg := cfg.label
	if labelArg == "" {
		labelArg = conf.Gmail.Label
	}
	maxResults := cfg.maxResults
	if maxResults <= 0 {
		maxResults = conf.Gmail.MaxResults
	}
	label, err := resolveLabel(ctx, store, labelArg)
	if err != nil {
		return err
	}

	view, err := mailbox.BuildFromQuery(ctx, mailbox.NewFetcher(store), label, maxResults)
	if err != nil {
		return fmt.Errorf("build listing: %w", err)
	}
	if printErr := inspect.PrintListing(view, os.Stdout); printErr != nil {
		return fmt.Errorf("print listing: %w", printErr)
	}
	return nil
}

// resolveLabel falls back to the literal argument when labels cannot be
// listed, so system labels still work with a narrowly scoped token.
func resolveLabel(ctx context.Context, store mailbox.LabelLister, arg string) (gmail.LabelID, error) {
	id, err := mailbox.ResolveLabel(ctx, store, arg)
	if err == nil {
		return id, nil
	}
	runtime.DefaultLogger().Warn("could not resolve label, using it as an id", "label", arg, "error", err)
	return gmail.LabelID(arg), nil
}
