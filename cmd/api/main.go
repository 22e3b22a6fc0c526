package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-planner/internal/app"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/database"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

func main() {
	// best-effort: without a .env file the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-planner")

	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(ctx, 30*time.Second)
	if err := app.Migrate(bootCtx, db); err != nil {
		cancelBoot()
		sugar.Fatalf("migrate: %v", err)
	}
	a, err := app.New(bootCtx, db, app.ConfigFromEnv(), sugar)
	cancelBoot()
	if err != nil {
		sugar.Fatalf("init: %v", err)
	}

	a.Scheduler.Start()

	srv := &http.Server{
		Addr:              utilities.GetEnv("HTTP_ADDRESS", "0.0.0.0:8431"),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", srv.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	a.Scheduler.Stop(doneCtx)
	if err := a.Contexts.Clear(doneCtx); err != nil {
		sugar.Warnf("clear tenant context: %v", err)
	}

	sugar.Info("goodbye")
}
