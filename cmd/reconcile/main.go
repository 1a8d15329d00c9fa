// cmd/reconcile runs one job against the router and exits. Meant for
// system cron or manual repair when the API process is not running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"netbill-service/internal/app"
	"netbill-service/internal/config"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var jobs = []string{
	app.JobSyncSecrets,
	app.JobCheckSuspension,
	app.JobCheckRestoration,
	app.JobSyncProfiles,
}

func main() {
	os.Exit(run())
}

func run() int {
	job := flag.String("job", "", "job to run: "+strings.Join(jobs, ", "))
	flag.Parse()

	if !validJob(*job) {
		fmt.Fprintf(os.Stderr, "unknown or missing -job %q (want one of %s)\n", *job, strings.Join(jobs, ", "))
		return 2
	}

	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}
	cfg := config.Load()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build container", zap.Error(err))
		return 1
	}
	defer c.Close()

	if err := c.RegisterJobs(nil); err != nil {
		logger.Error("failed to register jobs", zap.Error(err))
		return 1
	}

	if err := c.Scheduler.RunNow(ctx, *job); err != nil {
		if errors.Is(err, xerrors.ErrLockBusy) {
			logger.Warn("job already running elsewhere", zap.String("job", *job))
			return 0
		}
		logger.Error("job failed", zap.String("job", *job), zap.Error(err))
		return 1
	}
	return 0
}

func validJob(name string) bool {
	for _, j := range jobs {
		if j == name {
			return true
		}
	}
	return false
}
