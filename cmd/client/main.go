package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/taskhive/realtime/internal/alert"
	"github.com/taskhive/realtime/internal/config"
	"github.com/taskhive/realtime/internal/repository"
	"github.com/taskhive/realtime/internal/service"
	"github.com/taskhive/realtime/internal/transport"
)

func main() {
	roomID := flag.String("room", "", "room to join on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	identity, err := service.IdentityFromToken(cfg.AccessToken)
	if err != nil {
		log.Fatalf("failed to decode access token: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New(validator.WithRequiredStructEnabled())

	apiClient := repository.NewClient(cfg.APIBaseURL, cfg.AccessToken, cfg.RequestTimeout, logger)
	chatRepo := repository.NewChatRepository(apiClient)
	notificationRepo := repository.NewNotificationRepository(apiClient)

	push := transport.NewHandle(cfg.PushAddress(), cfg.AccessToken, logger,
		transport.WithBackoff(cfg.ReconnectMinBackoff, cfg.ReconnectMaxBackoff))

	session := service.NewSessionState(logger)
	tracker := service.NewPresenceTracker(push, identity.UserID, identity.Name,
		cfg.TypingIdleWindow, cfg.RemoteTypingTTL, logger)
	session.Init(identity, tracker)
	push.OnStatusChange(session.SetStatus)

	sinks := alert.MultiSink{alert.NewLogSink(logger)}
	if cfg.EnableSound || cfg.EnableDesktopAlerts {
		sinks = append(sinks, alert.NewTerminalSink(os.Stdout, cfg.AppName, cfg.EnableSound, true))
	}
	if cfg.EnableDesktopAlerts {
		sinks = append(sinks, alert.NewDesktopSink(nil, nil, logger))
	}

	feed := service.NewNotificationFeed(notificationRepo, push, sinks,
		cfg.NotificationLimit, cfg.NotificationInterval, cfg.UnavailableThreshold, logger)

	if err := push.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial push connect failed, will retry in background")
	}
	defer push.Close()

	feed.Start(ctx)
	defer feed.Stop()

	var room *service.ChatSync
	if *roomID != "" {
		room = service.NewChatSync(*roomID, chatRepo, push, validate, cfg.HistoryPageSize, logger)
		session.SetCurrentRoom(*roomID)
		tracker.Bind(*roomID)

		// Registered before the initial load so a reconnect completing
		// mid-load is not missed; Resync on a not-yet-ready room is a no-op.
		session.OnRehydrate(func() {
			room.Resync(ctx)
		})

		if err := room.Load(ctx); err != nil {
			logger.Error().Err(err).Msg("history load failed")
		}

		defer func() {
			tracker.Unbind()
			room.Close()
		}()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			session.Reset()
			log.Println("client stopped")
			return
		case <-ticker.C:
			printStatus(session, room, feed)
		}
	}
}

func printStatus(session *service.SessionState, room *service.ChatSync, feed *service.NotificationFeed) {
	fmt.Printf("[%s] unread=%d online=%d\n",
		session.Status(), feed.UnreadCount(), len(session.OnlineUsers()))

	if room == nil {
		return
	}

	messages := room.Messages()
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		fmt.Printf("  %s: %s\n", last.Author.Name, last.Content)
	}

	if typing := session.TypingUsers(); len(typing) > 0 {
		fmt.Printf("  %d typing\n", len(typing))
	}
}
