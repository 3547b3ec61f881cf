package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agendly/backend/internal/middleware"
	"github.com/agendly/backend/internal/models"
	"github.com/agendly/backend/internal/services"
	"github.com/agendly/backend/pkg/logger"
	"github.com/agendly/backend/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

const (
	testRPID     = "localhost"
	testRPName   = "Agendly"
	testRPOrigin = "http://localhost:3001"
)

type sentSMS struct {
	To   string
	Body string
}

// fakeSMSGateway records outgoing messages instead of calling a provider.
type fakeSMSGateway struct {
	mu       sync.Mutex
	messages []sentSMS
	fail     bool
}

func (g *fakeSMSGateway) SendSMS(ctx context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return services.ErrExternalService
	}
	g.messages = append(g.messages, sentSMS{To: to, Body: body})
	return nil
}

func (g *fakeSMSGateway) lastMessage(t *testing.T) sentSMS {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.messages) == 0 {
		t.Fatal("no SMS messages were sent")
	}
	return g.messages[len(g.messages)-1]
}

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	sms *fakeSMSGateway
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.WebAuthnCredential{},
		&models.WebAuthnChallenge{},
		&models.OTPCode{},
		&models.MFAConfig{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          testRPID,
		RPDisplayName: testRPName,
		RPOrigins:     []string{testRPOrigin},
	})
	if err != nil {
		t.Fatalf("failed creating webauthn instance: %v", err)
	}

	userStore := services.NewUserStore(db)
	credStore := services.NewCredentialStore(db)
	challengeStore := services.NewGormChallengeStore(db, 5*time.Minute)
	passkeyService := services.NewPasskeyService(wa, userStore, credStore, challengeStore)

	smsGateway := &fakeSMSGateway{}
	otpService := services.NewOTPService(db, smsGateway, 5*time.Minute)
	auditService := services.NewAuditService(db)

	authHandler := NewAuthHandler(db, auditService)
	passkeyHandler := NewPasskeyHandler(passkeyService, credStore, auditService)
	otpHandler := NewOTPHandler(otpService, userStore, auditService)
	mfaHandler := NewMFAHandler(db, auditService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(testRPOrigin))
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

	return &testEnv{app: app, db: db, sms: smsGateway}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
