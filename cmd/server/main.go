package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agendly/backend/internal/config"
	"github.com/agendly/backend/internal/database"
	"github.com/agendly/backend/internal/handlers"
	"github.com/agendly/backend/internal/middleware"
	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/logger"
	"github.com/agendly/backend/pkg/utils"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RelyingParty.ID,
		RPDisplayName: cfg.RelyingParty.DisplayName,
		RPOrigins:     cfg.RelyingParty.Origins,
	})
	if err != nil {
		log.Fatalf("webauthn initialization failed: %v", err)
	}

	var challengeStore services.ChallengeStore
	switch cfg.Challenge.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		challengeStore = services.NewRedisChallengeStore(client, cfg.Challenge.TTL)
	default:
		challengeStore = services.NewGormChallengeStore(db, cfg.Challenge.TTL)
	}

	userStore := services.NewUserStore(db)
	credStore := services.NewCredentialStore(db)
	passkeyService := services.NewPasskeyService(wa, userStore, credStore, challengeStore)
	smsGateway := services.NewHTTPSMSGateway(cfg.SMS)
	otpService := services.NewOTPService(db, smsGateway, cfg.OTP.TTL)
	auditService := services.NewAuditService(db)

	services.StartExpirySweeper(db, time.Minute)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			utils.CleanupExpiredJTIs()
		}
	}()

	authHandler := handlers.NewAuthHandler(db, auditService)
	passkeyHandler := handlers.NewPasskeyHandler(passkeyService, credStore, auditService)
	otpHandler := handlers.NewOTPHandler(otpService, userStore, auditService)
	mfaHandler := handlers.NewMFAHandler(db, auditService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	otpRoutes := api.Group("/auth/otp")
	otpRoutes.Post("/send", otpHandler.Send)
	otpRoutes.Post("/verify", otpHandler.Verify)

	mfaRoutes := api.Group("/auth/mfa")
	mfaRoutes.Get("/status", authMiddleware.RequireAuth, mfaHandler.Status)
	mfaRoutes.Post("/totp/setup", authMiddleware.RequireAuth, mfaHandler.TOTPSetup)
	mfaRoutes.Post("/totp/verify-setup", authMiddleware.RequireAuth, mfaHandler.TOTPVerifySetup)
	mfaRoutes.Post("/totp/disable", authMiddleware.RequireAuth, mfaHandler.TOTPDisable)
	mfaRoutes.Post("/totp/verify", mfaHandler.VerifyTOTP)

	passkeyRoutes := api.Group("/auth/passkeys")
	passkeyRoutes.Post("/register/begin", authMiddleware.RequireAuth, passkeyHandler.RegisterBegin)
	passkeyRoutes.Post("/register/finish", authMiddleware.RequireAuth, passkeyHandler.RegisterFinish)
	passkeyRoutes.Post("/login/begin", passkeyHandler.LoginBegin)
	passkeyRoutes.Post("/login/finish", passkeyHandler.LoginFinish)
	passkeyRoutes.Get("/", authMiddleware.RequireAuth, passkeyHandler.List)
	passkeyRoutes.Delete("/:id", authMiddleware.RequireAuth, passkeyHandler.Delete)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":              cfg.Server.Port,
		"address":           listenAddr,
		"rp_id":             cfg.RelyingParty.ID,
		"challenge_backend": cfg.Challenge.Backend,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
