package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/oauth2"

	"github.com/joshsymonds/mailgate/internal/config"
	"github.com/joshsymonds/mailgate/internal/runtime"
)

type tokenConfig struct {
	configPath string
}

func main() {
	cfg := parseFlags()
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		runtime.DefaultLogger().Error("mailgate-token failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() tokenConfig {
	configPath := flag.String("config", config.DefaultPath(), "mailgate YAML config (optional)")
	flag.Parse()
	return tokenConfig{configPath: *configPath}
}

func run(cfg tokenConfig, in io.Reader, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnvFiles(".env"); err != nil {
		return err
	}
	conf, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	if conf.Auth.ClientSecret == "" {
		return errors.New("auth.client_secret must point at a Google OAuth client secret file")
	}
	oauthCfg, err := runtime.LoadOAuthConfig(conf.Auth.ClientSecret)
	if err != nil {
		return err
	}
	tokens, err := runtime.OpenKeyringTokenStore(runtime.KeyringConfig{
		Backend: conf.Auth.KeyringBackend,
		Dir:     conf.Auth.KeyringDir,
		Key:     conf.Auth.TokenKey,
	})
	if err != nil {
		return err
	}

	url := oauthCfg.AuthCodeURL("mailgate", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL, authorize access and paste the code below:\n\n%s\n\ncode: ", url)
	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("no authorization code entered")
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		runtime.DefaultLogger().Warn("token has no refresh token; the gateway will stop working when it expires")
	}
	if err := tokens.Save(tok); err != nil {
		return err
	}
	fmt.Fprintln(out, "token stored")
	return nil
}
