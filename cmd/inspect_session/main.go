package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"analytics-console/internal/config"
	"analytics-console/internal/repository"
	"analytics-console/internal/repository/contract"
	"analytics-console/internal/repository/implementation"
	"analytics-console/internal/repository/unitofwork"
	"analytics-console/pkg/console"
	"analytics-console/pkg/database"
	"analytics-console/pkg/events"
	pktNats "analytics-console/pkg/nats"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
)

func main() {
	userID := flag.String("user", "", "print the session record of this user")
	listMode := flag.String("list", "", "list sessions with this source bound (postgres store only)")
	limit := flag.Int("limit", 20, "rows for -list")
	tail := flag.Bool("events", false, "tail console events from NATS")
	flag.Parse()

	cfg := config.Load()

	switch {
	case *tail:
		tailEvents(cfg)
	case *userID != "":
		printSession(cfg, *userID)
	case *listMode != "":
		listSessions(cfg, *listMode, *limit)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func openStore(cfg *config.Config) contract.SessionStateRepository {
	switch cfg.Console.SessionStore {
	case config.SessionStoreRedis:
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		return implementation.NewRedisSessionStateRepository(redis.NewClient(opt), 0)
	case config.SessionStoreMemory:
		color.Red("The memory store lives inside the server process; nothing to inspect.")
		os.Exit(1)
	}
	return openPostgres(cfg)
}

func openPostgres(cfg *config.Config) *repository.SessionStore {
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, false)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return repository.NewSessionStore(unitofwork.NewRepositoryFactory(db))
}

func printSession(cfg *config.Config, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := openStore(cfg).Load(ctx, userID)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	if sess == nil {
		color.Yellow("No session stored for %s", userID)
		return
	}

	color.Cyan("Session %s (user %s)", sess.ID, sess.UserID)
	for _, mode := range console.Modes {
		if sess.SourceActive(mode) {
			color.Green("  %-10s bound", mode)
		} else {
			color.HiBlack("  %-10s -", mode)
		}
	}
	if sess.Dataset != nil {
		fmt.Printf("  dataset: %s (%d rows, %d columns) fingerprint %s\n",
			sess.Dataset.Filename, sess.Dataset.TotalRows, sess.Dataset.TotalColumns, sess.DatasetFingerprint)
	}
	if entry := sess.CachedSuggestions; entry != nil {
		if entry.Failed() {
			color.Red("  cached suggestions: %s", entry.FetchError)
		} else {
			fmt.Printf("  cached suggestions (%s):\n", entry.Fingerprint)
			for _, p := range entry.Prompts {
				fmt.Printf("    - %s\n", p)
			}
		}
	}
}

func listSessions(cfg *config.Config, rawMode string, limit int) {
	mode, err := console.ParseMode(rawMode)
	if err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}
	if cfg.Console.SessionStore != config.SessionStorePostgres && cfg.Console.SessionStore != "" {
		color.Red("-list needs the postgres session store")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := openPostgres(cfg)
	total, err := store.CountBound(ctx, mode)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	sessions, err := store.ListBound(ctx, mode, limit)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}

	color.Cyan("%d sessions with %s bound (showing %d)", total, mode, len(sessions))
	for _, s := range sessions {
		sources := make([]string, 0, 3)
		for _, m := range s.ActiveSources() {
			sources = append(sources, m.String())
		}
		fmt.Printf("  %-24s %-24s %s\n", s.UserID, s.ID, strings.Join(sources, ","))
	}
}

func tailEvents(cfg *config.Config) {
	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sub.Subscribe(ctx, pktNats.Subject(">"), "", func(ctx context.Context, evt events.Event) error {
		payload, _ := json.Marshal(evt.Payload())
		line := fmt.Sprintf("%s %-22s %s", evt.Timestamp().Format(time.RFC3339), evt.EventType(), payload)
		switch evt.EventType() {
		case events.TypeTurnFailed:
			color.Red("%s", line)
		case events.TypeTurnCompleted, events.TypeSelectionExported:
			color.Green("%s", line)
		case events.TypeSessionReset:
			color.Yellow("%s", line)
		default:
			fmt.Println(line)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	color.Cyan("Tailing console events, Ctrl-C to stop")
	<-ctx.Done()
}
