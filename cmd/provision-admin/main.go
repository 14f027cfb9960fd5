// Command provision-admin creates an administrator account and prints its
// generated password once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"togoretrouve/internal/geo"
	iservice "togoretrouve/internal/identity/service"
	istore "togoretrouve/internal/identity/store"
	"togoretrouve/internal/identity/token"
	"togoretrouve/internal/platform/config"
	"togoretrouve/internal/platform/logger"
	"togoretrouve/internal/platform/postgres"
)

func main() {
	address := flag.String("email", "", "administrator email address")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, *address, log); err != nil {
		log.Error("provisioning failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, address string, log *slog.Logger) error {
	if address == "" {
		return errors.New("-email is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required: an in-memory admin would not outlive this command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, log); err != nil {
		return err
	}

	svc := iservice.New(istore.NewPostgres(db), geo.NewService(geo.NewPostgres(db)),
		token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer), iservice.WithLogger(log))
	user, password, err := svc.ProvisionAdmin(ctx, address)
	if err != nil {
		return err
	}

	fmt.Printf("admin %s created\nid:       %s\npassword: %s\n", user.Email, user.ID, password)
	return nil
}
