package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	logger.Init()

	addr, dbPath, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	eff, err := config.LoadEffective(config.Flags{
		Addr:    addr,
		DBPath:  dbPath,
		CfgPath: cfgPath,
		Set:     setFlags,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}
