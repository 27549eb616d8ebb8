package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/autoreply"
	"github.com/talkincode/wagate/internal/genai"
	"github.com/talkincode/wagate/internal/protocol"
	"github.com/talkincode/wagate/internal/queue"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webapi"
	"github.com/talkincode/wagate/internal/webserver"
)

var (
	confFile = flag.String("c", "/etc/wagate.yml", "config file path")
	initDb   = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showVer  = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}

	cfg := config.LoadConfig(*confFile)
	if err := os.MkdirAll(cfg.System.Workdir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "create workdir failed: %v\n", err)
		os.Exit(1)
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}

	manager := session.NewManager(application.DB(), cfg, protocol.NewWameowDialer())
	client := genai.NewClient(cfg)
	orchestrator := autoreply.NewOrchestrator(application.DB(), client)
	manager.SetInboundHandler(orchestrator)

	processor := queue.NewProcessor(application.DB(), manager)
	if err := processor.RecoverStale(); err != nil {
		zap.L().Error("queue recovery failed", zap.Error(err))
	}

	webserver.Init(cfg)
	webapi.NewHandler(application.DB(), cfg, manager, processor, orchestrator, client).InitRouter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := manager.RestoreAllSessions(ctx); err != nil {
			zap.L().Error("session restore failed", zap.Error(err))
		}
	}()

	errch := make(chan error, 1)
	go func() {
		errch <- webserver.Listen()
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errch:
		zap.L().Error("web server stopped", zap.Error(err))
	case sig := <-sigch:
		zap.S().Infof("received signal %s, shutting down", sig)
	}
}
