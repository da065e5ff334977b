package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sah-anshu/wa2fa-meta/adapters/events"
	"github.com/sah-anshu/wa2fa-meta/adapters/notes"
	"github.com/sah-anshu/wa2fa-meta/adapters/sender"
	"github.com/sah-anshu/wa2fa-meta/config"
	"github.com/sah-anshu/wa2fa-meta/ports"
	"github.com/sah-anshu/wa2fa-meta/service"
	transport "github.com/sah-anshu/wa2fa-meta/transport/http"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Redis is optional: with it, OTP session notes are shared across
	// instances and verification events go out over redis streams; without
	// it everything stays in process memory.
	var notesProvider ports.NotesProvider
	var eventPublisher ports.EventPublisher
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("failed to parse redis url", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			logger.Fatal("failed to create event publisher", zap.Error(err))
		}

		notesProvider = notes.NewRedisProvider(redisClient, cfg.OTPExpiry()+service.DefaultLockoutDuration, logger)
		eventPublisher = events.NewWatermillPublisher(publisher)
	} else {
		logger.Info("redis not configured, using in-memory session notes")
		notesProvider = notes.NewMemoryProvider()
	}

	whatsapp := sender.NewWhatsAppSender(
		cfg.WhatsApp.AccessToken,
		cfg.WhatsApp.PhoneNumberID,
		cfg.WhatsApp.APIVersion,
		logger,
	)

	var fallback ports.MessageSender
	if cfg.SMSFallback.URL != "" {
		fallback = sender.NewSMSSender(cfg.SMSFallback.URL, cfg.SMSFallback.Method, logger)
	}

	dispatcher := service.NewDispatcher(4, 64, logger)
	store := service.NewStore(logger)
	confirm := service.NewConfirmLinkSigner(cfg.Confirm.Secret, cfg.ConfirmTTL())

	verification := service.NewVerificationService(
		service.Options{
			Realm:           cfg.Realm,
			BusinessPhone:   cfg.WhatsApp.BusinessPhone,
			DefaultRegion:   cfg.DefaultCountryCode,
			OTPEnabled:      cfg.OTP.Enabled,
			OTPLength:       cfg.OTP.Length,
			OTPExpiry:       cfg.OTPExpiry(),
			OTPMaxAttempts:  cfg.OTP.MaxAttempts,
			OTPTemplate:     cfg.OTP.Template,
			DefaultLanguage: cfg.DefaultLanguage,
			QREnabled:       cfg.QR.Enabled,
			QRTTL:           cfg.QRTTL(),
			ConfirmBaseURL:  cfg.Confirm.BaseURL,
			AckVerified:     cfg.QR.AckVerified,
			AckMismatch:     cfg.QR.AckMismatch,
			AckExpired:      cfg.QR.AckExpired,
			AckNoMatch:      cfg.QR.AckNoMatch,
		},
		store,
		service.NewOTPManager(),
		confirm,
		whatsapp,
		fallback,
		eventPublisher,
		notesProvider,
		dispatcher,
		logger,
	)

	router := transport.SetupRouter(verification, cfg.Webhook.VerifyToken, cfg.Webhook.AppSecret, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expired entries are also swept lazily on lookups; this keeps the store
	// trimmed when nobody polls.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.CleanupExpired()
			}
		}
	}()

	go func() {
		logger.Info("starting wa2fa server", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	dispatcher.Close()
}
