package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"herald/internal/announce"
	"herald/internal/calendar"
	"herald/internal/config"
	"herald/internal/creds"
	"herald/internal/discord"
	"herald/internal/notify"
	"herald/internal/store"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime)

	conf := config.Load()
	if conf.CycleInterval > announce.Tolerance {
		log.Fatalf("CYCLE_INTERVAL_MINUTES (%s) exceeds the announce tolerance (%s); windows would be skipped",
			conf.CycleInterval, announce.Tolerance)
	}

	db, err := sql.Open("sqlite", conf.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.Exec("PRAGMA foreign_keys = ON")

	if err := store.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := creds.Migrate(db); err != nil {
		log.Fatalf("migrate credentials: %v", err)
	}

	key, err := loadKey(conf.CredentialsKey)
	if err != nil {
		log.Fatalf("credentials key: %v", err)
	}
	credProvider, err := creds.NewProvider(db, key)
	if err != nil {
		log.Fatalf("credentials provider: %v", err)
	}

	st := store.New(db)
	announcer := notify.NewAnnouncer(st, nil)

	// With a bot token the gateway tracks the live guild set; without one
	// we announce for every guild that has a calendar configured.
	var guilds announce.GuildLister = st
	if conf.DiscordToken != "" {
		gw := discord.New(conf.DiscordToken)
		if err := gw.Connect(context.Background()); err != nil {
			log.Fatalf("gateway connect: %v", err)
		}
		defer gw.Close()
		guilds = gw
		log.Println("herald: gateway connected")
	} else {
		log.Println("herald: no DISCORD_TOKEN, enumerating guilds from the store")
	}

	engine := announce.New(announce.Deps{
		Store:       st,
		Creds:       credProvider,
		Events:      calendar.NewProvider(),
		Guilds:      guilds,
		Notifier:    announcer,
		Lookahead:   conf.Lookahead,
		CallTimeout: conf.CallTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCycle := func() {
		report, err := engine.Run(ctx)
		if err != nil {
			// The next scheduled cycle is the retry.
			log.Printf("herald: cycle abandoned: %v", err)
			return
		}
		log.Printf("herald: cycle complete: guilds=%d rules=%d sent=%d deleted=%d errors=%d",
			report.Guilds, report.Rules, report.Sent, report.Deleted, report.Errors)
	}

	log.Printf("herald: announcing every %s", conf.CycleInterval)
	runCycle()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", conf.CycleInterval), runCycle); err != nil {
		log.Fatalf("schedule cycle: %v", err)
	}
	scheduler.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("herald: shutting down")
	cancel()
	<-scheduler.Stop().Done()
}

// loadKey decodes the hex credentials key, generating a throwaway in-memory
// key when none is configured (credentials won't survive a restart).
func loadKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		log.Println("herald: CREDENTIALS_KEY not set, using an ephemeral key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return key, nil
}
