package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/careline/rtc/internal/application/config"
	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/infra/adapters/memory"
	"github.com/careline/rtc/internal/infra/adapters/sqlite"
	"github.com/careline/rtc/internal/infra/channel"
	"github.com/careline/rtc/internal/infra/media"
	"github.com/careline/rtc/internal/infra/peer"
	signaling "github.com/careline/rtc/internal/infra/signal"
	"github.com/careline/rtc/internal/infra/store"
	"github.com/careline/rtc/internal/usecase"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the messaging and call agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	setupLogger()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Running agent", slog.Bool("debug", cfg.Debug))

	db, err := sqlite.NewSQLite(ctx, cfg.CallLogPath)
	if err != nil {
		slog.Error("open call log", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer db.Close()

	if err = sqlite.Migrate(db); err != nil {
		slog.Error("migrate call log", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	storeClient := store.NewClient(cfg.Relay.BaseURL)

	me, err := storeClient.Login(ctx, cfg.Relay.Username, cfg.Relay.Password)
	if err != nil {
		slog.Error("login", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Logged in", slog.Any(constant.UserID, me.ID))

	ch := channel.New(
		cfg.Relay.WSURL,
		storeClient.Token(),
		channel.DefaultReconnectPolicy(
			cfg.Channel.ReconnectBaseDelay,
			cfg.Channel.ReconnectMaxDelay,
			cfg.Channel.ReconnectMaxAttempts,
		),
	)

	signalClient := signaling.NewClient(cfg.Relay.BaseURL, storeClient.Token())

	iceServers := func(ctx context.Context) []webrtc.ICEServer {
		servers, err := storeClient.IceServers(ctx)
		if err != nil {
			slog.Warn("fetch ice servers, using static config", slog.Any(constant.Error, err))
			return cfg.ICEServers()
		}
		return servers
	}

	callUsecase := usecase.NewCallUsecase(
		me.ID,
		usecase.CallPolicy{
			MissedCallWindow: cfg.Call.MissedCallWindow,
			ConnectWait:      cfg.Call.ConnectWait,
		},
		signalClient,
		ch,
		peer.NewFactory(media.NewStaticProvider()),
		iceServers,
		memory.NewPendingIceRepository(),
		sqlite.NewCallLogRepository(db),
		storeClient,
	)

	inboxUsecase := usecase.NewInboxUsecase(me.ID, storeClient, memory.NewConversationRepository())

	subscribe(ch, events.TypeNewMessage, inboxUsecase.HandleNewMessage)
	subscribe(ch, events.TypeMessageStatusUpdate, inboxUsecase.HandleStatusUpdate)
	subscribe(ch, events.TypeIncomingCall, callUsecase.HandleIncomingCall)
	subscribe(ch, events.TypeCallAccepted, callUsecase.HandleCallAccepted)
	subscribe(ch, events.TypeCallRejected, callUsecase.HandleCallRejected)
	subscribe(ch, events.TypeCallEnded, callUsecase.HandleCallEnded)
	subscribe(ch, events.TypeIceCandidate, callUsecase.HandleRemoteCandidate)
	subscribe(ch, events.TypeMissedCall, callUsecase.HandleMissedCallNotice)
	subscribe(ch, events.TypeUserOnline, func(_ context.Context, ev events.PresenceEvent) {
		inboxUsecase.HandlePresence(ev.UserID, true)
	})
	subscribe(ch, events.TypeUserOffline, func(_ context.Context, ev events.PresenceEvent) {
		inboxUsecase.HandlePresence(ev.UserID, false)
	})
	ch.On(events.TypeHeartbeat, func(json.RawMessage) {})

	// Каждый reconnect может потерять события, поэтому пересинхронизация.
	ch.OnStateChange(func(connected bool) {
		if !connected {
			return
		}
		go func() {
			if err := inboxUsecase.Resync(context.Background()); err != nil {
				slog.Error("resync after reconnect", slog.Any(constant.Error, err))
			}
		}()
	})

	if err = ch.Connect(ctx); err != nil {
		slog.Error("connect event channel", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Shutting down agent")

	callUsecase.Shutdown(context.Background())
	ch.Disconnect()
}

// subscribe binds one typed payload handler to a channel event.
func subscribe[T any](ch *channel.Client, eventType string, handle func(context.Context, T)) {
	ch.On(eventType, func(data json.RawMessage) {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Error(
				"unmarshal channel event",
				slog.String(constant.EventType, eventType),
				slog.Any(constant.Error, err),
			)
			return
		}

		handle(context.Background(), ev)
	})
}

func setupLogger() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)
}
