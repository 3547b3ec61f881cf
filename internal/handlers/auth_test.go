package handlers

import (
	"testing"

	"github.com/agendly/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

func TestRegisterSuccess(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", map[string]any{
		"email":     "new@example.com",
		"phone":     "+15551234567",
		"password":  "correct-horse",
		"firstName": "New",
		"lastName":  "User",
	}, nil)
	assertStatus(t, resp, fiber.StatusCreated)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	if token, _ := data["token"].(string); token == "" {
		t.Fatal("expected a session token in the response")
	}

	var user models.User
	if err := env.db.First(&user, "email = ?", "new@example.com").Error; err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if user.Phone != "+15551234567" {
		t.Fatalf("expected phone stored, got %q", user.Phone)
	}
	if user.IsPhoneVerified {
		t.Fatal("phone must not be verified at registration")
	}
	if user.PasswordHash == "correct-horse" {
		t.Fatal("password stored in plaintext")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"bad email", map[string]any{"email": "not-an-email", "password": "longenough", "firstName": "A", "lastName": "B"}},
		{"short password", map[string]any{"email": "a@example.com", "password": "short", "firstName": "A", "lastName": "B"}},
		{"missing name", map[string]any{"email": "a@example.com", "password": "longenough", "firstName": "", "lastName": "B"}},
		{"bad phone", map[string]any{"email": "a@example.com", "phone": "abc", "password": "longenough", "firstName": "A", "lastName": "B"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", tc.payload, nil)
			assertStatus(t, resp, fiber.StatusBadRequest)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "taken@example.com", "password123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", map[string]any{
		"email":     "taken@example.com",
		"password":  "password123",
		"firstName": "Dup",
		"lastName":  "User",
	}, nil)
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestLoginWithoutMFAReturnsToken(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "plain@example.com", "password123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
		"email":    "plain@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, resp, fiber.StatusOK)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	if token, _ := data["token"].(string); token == "" {
		t.Fatal("expected a session token")
	}
	if _, hasMFA := data["mfaRequired"]; hasMFA {
		t.Fatal("did not expect an MFA challenge for a user without MFA")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "victim@example.com", "password123", models.UserRoleUser)

	wrongPassword := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
		"email":    "victim@example.com",
		"password": "wrong-password",
	}, nil)
	assertStatus(t, wrongPassword, fiber.StatusUnauthorized)
	wrongPasswordBody := decodeJSONMap(t, wrongPassword)

	unknownUser := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
		"email":    "nobody@example.com",
		"password": "wrong-password",
	}, nil)
	assertStatus(t, unknownUser, fiber.StatusUnauthorized)
	unknownUserBody := decodeJSONMap(t, unknownUser)

	// Identical failure shape regardless of which check failed.
	if wrongPasswordBody["error"] != unknownUserBody["error"] {
		t.Fatalf("error messages differ: %v vs %v", wrongPasswordBody["error"], unknownUserBody["error"])
	}
}

func TestLoginWithVerifiedPhoneRequiresMFA(t *testing.T) {
	env := setupTestEnv(t)
	user, _ := createTestUser(t, env.db, "sms-user@example.com", "password123", models.UserRoleUser)
	env.db.Model(user).Updates(map[string]any{"phone": "+15550001111", "is_phone_verified": true})

	resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
		"email":    "sms-user@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, resp, fiber.StatusOK)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	if required, _ := data["mfaRequired"].(bool); !required {
		t.Fatalf("expected mfaRequired, got %+v", data)
	}
	if token, _ := data["mfaToken"].(string); token == "" {
		t.Fatal("expected an MFA token")
	}
	if _, hasSession := data["token"]; hasSession {
		t.Fatal("must not hand out a session token before MFA completes")
	}

	methods, _ := data["methods"].([]any)
	found := false
	for _, m := range methods {
		if m == "sms" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sms in methods, got %v", methods)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "me@example.com", "password123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, fiber.MethodGet, "/api/auth/me", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	if data["email"] != user.Email {
		t.Fatalf("expected email %q, got %v", user.Email, data["email"])
	}

	unauth := performJSONRequest(t, env.app, fiber.MethodGet, "/api/auth/me", nil, nil)
	assertStatus(t, unauth, fiber.StatusUnauthorized)
}
