// createadmin provisions an administrator account directly in MongoDB.
// Admin accounts are never created over HTTP.
//
//	ADMIN_PASSWORD='...' createadmin --email ops@loanhub.in --first-name Ops
//
// If the email already belongs to an identity, it is promoted to admin and
// reactivated; the password is left unchanged.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/config"
	"github.com/AnshRaj112/loanhub-backend/internal/database"
	"github.com/AnshRaj112/loanhub-backend/internal/logger"
	"github.com/AnshRaj112/loanhub-backend/internal/services"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var email, firstName, lastName string
	flagSet := pflag.NewFlagSet("createadmin", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "admin email address (required)")
	flagSet.StringVar(&firstName, "first-name", "", "first name (default \"Admin\")")
	flagSet.StringVar(&lastName, "last-name", "", "last name (default \"User\")")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if email == "" {
		flagSet.PrintDefaults()
		return fmt.Errorf("--email is required")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	password := os.Getenv("ADMIN_PASSWORD")

	zl, err := logger.New(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, zl)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer func() { _ = database.Disconnect(client) }()

	credentials := store.NewMongoStore(db)
	if err := credentials.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	audit := services.NewMongoAuditSink(db, services.DefaultAuditBuffer, zl)
	defer audit.Close()
	users := services.NewUserService(credentials, utils.NewBcryptHasher(cfg.BcryptCost), audit, zl, time.Now)
	user, created, err := users.CreateAdmin(ctx, email, password, firstName, lastName)
	if err != nil {
		return err
	}

	if created {
		zl.Info("Admin account created", zap.String("user_id", user.IDHex()), zap.String("email", logger.MaskEmail(user.Email)))
	} else {
		zl.Info("Existing account promoted to admin", zap.String("user_id", user.IDHex()), zap.String("email", logger.MaskEmail(user.Email)))
	}
	return nil
}
