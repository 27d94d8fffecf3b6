package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"instabridge/config"
	"instabridge/internal/adapters/instagram"
	"instabridge/internal/adapters/telegram"
	"instabridge/internal/api"
	"instabridge/internal/archive"
	"instabridge/internal/bridge"
	"instabridge/internal/events"
	"instabridge/internal/media"
	"instabridge/internal/normalize"
	"instabridge/internal/router"
	"instabridge/internal/store"
	"instabridge/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open identity store")
	}
	defer st.Close()

	igClient, err := instagram.NewClient(cfg.InstagramBaseURL, cfg.InstagramUsername, cfg.InstagramPassword, cfg.InstagramTOTPSeed, cfg.SessionPath, cfg.DownloadTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Instagram client")
	}
	if err := igClient.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("Instagram login failed")
	}

	bot, err := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramOwnerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	downloader, err := media.NewDownloader(cfg.MediaDir, cfg.DownloadTimeout, cfg.MaxFileSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize media downloader")
	}

	var hooks []bridge.ForwardHook

	eventPub, err := events.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	if eventPub != nil {
		defer eventPub.Close()
		hooks = append(hooks, eventPub)
	}

	archiver, err := archive.NewArchiver(archive.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize S3 archiver")
	}
	if archiver != nil {
		hooks = append(hooks, archiver)
	}

	poller := bridge.NewPoller(
		igClient,
		normalize.New(downloader),
		bridge.NewPublisher(bot),
		st,
		bot,
		bridge.PollerConfig{
			Interval:          cfg.PollInterval,
			ConversationLimit: cfg.ConversationLimit,
			MessageLimit:      cfg.MessageLimit,
			AllowedSenders:    cfg.AllowedUsers,
			SeenRetention:     cfg.SeenRetention,
		},
		hooks...,
	)

	bot.SetActionHandler(bridge.NewActionHandler(router.New(st), igClient))
	bot.SetStatusFunc(func() string {
		stats, err := st.Stats(context.Background())
		if err != nil {
			return fmt.Sprintf("status unavailable: %v", err)
		}
		return fmt.Sprintf("Forwarded this run: %d\nMappings: %d\nSeen messages: %d",
			poller.Forwarded(), stats.Mappings, stats.SeenMessages)
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		bot.Listen(ctx)
	}()

	if cfg.StatusAddr != "" {
		srv := api.NewServer(cfg.StatusAddr, st, poller.Forwarded)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Status server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	wg.Wait()
	log.Info().Msg("Bridge stopped")
}
