// Command seed bootstraps an administrator account and, optionally, the
// demo catalogue.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/shivam349/codex1/internal/aws"
	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/config"
	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/logging"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/users"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	adminEmail := flag.String("admin-email", "", "administrator e-mail")
	adminPassword := flag.String("admin-password", "", "administrator password")
	resetPassword := flag.Bool("reset-password", false, "replace the password of an existing account")
	withCatalog := flag.Bool("catalog", true, "create the demo products")
	flag.Parse()

	config.LoadDotEnv(*envFile)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to init aws clients")
	}

	if *adminEmail != "" {
		userStore := users.NewStore(clients.DynamoDB, cfg.UsersTable)
		svc := identity.NewService(
			userStore,
			identity.NewJWTGate(cfg.JWTSecret, userStore),
			notify.NewLogNotifier(logger),
			identity.Settings{TokenTTL: cfg.TokenTTL, VerificationTTL: cfg.VerificationTTL, FrontendURL: cfg.FrontendURL},
			logger,
		)
		created, err := svc.CreateAdmin(ctx, *adminEmail, *adminPassword, *resetPassword)
		if err != nil {
			logger.WithError(err).Fatal("failed to create admin")
		}
		logger.WithField("email", *adminEmail).WithField("created", created).Info("admin ready")
	}

	if *withCatalog {
		n, err := seedCatalog(ctx, catalog.NewStore(clients.DynamoDB, cfg.ProductsTable), demoProducts, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to seed catalog")
		}
		logger.WithField("created", n).Info("catalog seeded")
	}
}
