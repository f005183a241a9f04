package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline/rtc/internal/application/config"
	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/infra/adapters/memory"
	"github.com/careline/rtc/internal/infra/ports/http/handlers"
	"github.com/careline/rtc/internal/infra/ports/http/server"
	"github.com/careline/rtc/internal/usecase"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the bundled relay server",
	Run: func(cmd *cobra.Command, args []string) {
		runRelay()
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	setupLogger()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Running relay", slog.Bool("debug", cfg.Debug))

	userRepo := memory.NewUserRepository()
	messageRepo := memory.NewMessageRepository()
	connRepo := memory.NewChannelConnectionRepository()

	userUsecase := usecase.NewUserUsecase([]byte(cfg.Serve.JWTSecret), userRepo, connRepo)
	relayUsecase := usecase.NewRelayUsecase(userRepo, messageRepo, connRepo)

	authHandler := handlers.NewAuthHandler(userUsecase)
	iceHandler := handlers.NewIceHandler(cfg)
	signalHandler := handlers.NewSignalHandler(relayUsecase)
	messageHandler := handlers.NewMessageHandler(relayUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, connRepo, relayUsecase)

	echoSrv := server.New(cfg, authHandler, iceHandler, signalHandler, messageHandler, wsHandler)

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-heartbeat.C:
				relayUsecase.Heartbeat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	srvCh := make(chan error, 1)
	go func() {
		srvCh <- echoSrv.Start(":" + cfg.Serve.Port)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down relay due to context cancel")
	case err = <-srvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)

		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}
}
