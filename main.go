package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"livesync/internal/config"
	"livesync/internal/directory"
	"livesync/internal/feed"
	"livesync/internal/models"
	"livesync/internal/realtime"
	"livesync/internal/store"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.DBFile, store.Options{ReadMarkers: true})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	transport, err := realtime.DialWS(ctx, cfg.FeedURL)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()

	dir := directory.NewCached(ctx, db, cfg.ProfileTTL)
	policy := realtime.FixedDelay(cfg.ReconnectDelay)

	chatFeed, err := feed.OpenChat(ctx, feed.ChatConfig{
		SelfID:      cfg.UserID,
		Transport:   transport,
		Presence:    transport,
		Store:       db,
		Directory:   dir,
		Policy:      policy,
		SettleDelay: cfg.SettleDelay,
	})
	if err != nil {
		return err
	}
	defer chatFeed.Close()

	notifFeed, err := feed.OpenNotifications(ctx, feed.NotificationConfig{
		SelfID:      cfg.UserID,
		Transport:   transport,
		Store:       db,
		Policy:      policy,
		SettleDelay: cfg.SettleDelay,
		OnNotification: func(n models.Notification) {
			slog.Info("notification", "title", n.Title, "job_id", n.JobID)
		},
	})
	if err != nil {
		return err
	}
	defer notifFeed.Close()

	unsubChat := chatFeed.Subscribe(func(ev feed.Event) {
		switch ev.Kind {
		case feed.EventConnectivity:
			slog.Info("chat feed connectivity", "connected", ev.Connected)
		case feed.EventUnread:
			slog.Info("unread changed", "contact_id", ev.ContactID,
				"count", chatFeed.UnreadCount(ev.ContactID))
		case feed.EventSendFailed:
			slog.Error("message not delivered", "pending_id", ev.PendingID, "error", ev.Err)
		}
	})
	defer unsubChat()

	unsubNotif := notifFeed.Subscribe(func(ev feed.Event) {
		if ev.Kind == feed.EventNotifications {
			slog.Info("notifications updated", "unseen", notifFeed.UnseenCount())
		}
	})
	defer unsubNotif()

	slog.Info("livesync started", "user_id", cfg.UserID, "feed_url", cfg.FeedURL)

	g, gCtx := errgroup.WithContext(ctx)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down feeds...")

		notifFeed.Close()
		chatFeed.Close()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
