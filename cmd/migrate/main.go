package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"userstore/pkg/database"
	"userstore/pkg/factory"
	"userstore/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appFactory, err := factory.NewFactory(ctx)
	if err != nil {
		fmt.Printf("Factory oluşturulamadı: %v\n", err)
		os.Exit(1)
	}
	defer appFactory.Close()

	log := appFactory.GetLogger()
	cfg := appFactory.GetConfig()

	log.Info("Migrationlar başlatılıyor", map[string]interface{}{
		"env":        cfg.AppEnv,
		"driver":     cfg.Database.Driver,
		"seed_roles": cfg.Users.SeedRoles,
	})

	ctx, span := tracing.StartSpan(ctx, "migrate")
	err = appFactory.GetMigrationService().RunMigrations(ctx)
	tracing.EndSpan(span, err)
	if err != nil {
		log.ErrorContext(ctx, "Migrationlar uygulanamadı", map[string]interface{}{"error": err.Error()})
		appFactory.Close()
		os.Exit(1)
	}

	log.InfoContext(ctx, "Migrationlar tamamlandı", database.Stats(appFactory.GetDB()))
}
