package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agendly/backend/internal/models"
	"github.com/agendly/backend/pkg/logger"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// PasskeyService runs the WebAuthn registration and authentication
// ceremonies. Challenges are issued and consumed server-side through the
// ChallengeStore; the byte-level attestation and assertion checks are
// delegated to go-webauthn.
type PasskeyService struct {
	WebAuthn   *webauthn.WebAuthn
	Users      *UserStore
	Creds      *CredentialStore
	Challenges ChallengeStore
}

func NewPasskeyService(wa *webauthn.WebAuthn, users *UserStore, creds *CredentialStore, challenges ChallengeStore) *PasskeyService {
	return &PasskeyService{WebAuthn: wa, Users: users, Creds: creds, Challenges: challenges}
}

type passkeyUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	b, _ := u.user.ID.MarshalBinary()
	return b
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.FirstName + " " + u.user.LastName
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

func (s *PasskeyService) loadUser(ctx context.Context, userID uuid.UUID) (*passkeyUser, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	dbCreds, err := s.Creds.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(dbCreds))
	for i, dc := range dbCreds {
		var transports []protocol.AuthenticatorTransport
		if dc.Transports != "" {
			var ts []string
			json.Unmarshal([]byte(dc.Transports), &ts)
			for _, t := range ts {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}
		creds[i] = webauthn.Credential{
			ID:              dc.CredentialID,
			PublicKey:       dc.PublicKey,
			AttestationType: dc.AttestationType,
			Authenticator: webauthn.Authenticator{
				AAGUID:    dc.AAGUID,
				SignCount: dc.SignCount,
			},
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: dc.BackupEligible,
				BackupState:    dc.BackupState,
			},
		}
	}

	return &passkeyUser{user: *user, creds: creds}, nil
}

// BeginRegistration starts a credential enrollment ceremony. Already-enrolled
// authenticators are excluded, and the issued challenge replaces any prior
// unconsumed registration challenge for the user.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID uuid.UUID) (*protocol.CredentialCreation, error) {
	waUser, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, len(waUser.creds))
	for i, cred := range waUser.creds {
		exclusions[i] = cred.Descriptor()
	}

	options, session, err := s.WebAuthn.BeginRegistration(waUser, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	if err := s.Challenges.Issue(ctx, userID, models.CeremonyRegistration, []byte(session.Challenge), string(sessionJSON)); err != nil {
		return nil, err
	}

	return options, nil
}

// FinishRegistration consumes the pending registration challenge, verifies
// the attestation response and persists the new credential. Nothing is
// persisted when verification fails.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userID uuid.UUID, name string, response []byte) (*models.WebAuthnCredential, error) {
	sessionJSON, err := s.Challenges.Consume(ctx, userID, models.CeremonyRegistration)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return nil, err
	}

	waUser, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed attestation response", ErrValidationFailed)
	}

	credential, err := s.WebAuthn.CreateCredential(waUser, session, parsed)
	if err != nil {
		logger.Warn("passkey_attestation_rejected", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: attestation verification", ErrValidationFailed)
	}

	var transportsJSON []byte
	if len(credential.Transport) > 0 {
		ts := make([]string, len(credential.Transport))
		for i, t := range credential.Transport {
			ts[i] = string(t)
		}
		transportsJSON, _ = json.Marshal(ts)
	}

	dbCred := &models.WebAuthnCredential{
		UserID:          userID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		Name:            name,
		Transports:      string(transportsJSON),
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}
	if err := s.Creds.Add(ctx, dbCred); err != nil {
		return nil, err
	}

	return dbCred, nil
}

// BeginLogin starts an authentication ceremony. A user with zero enrolled
// credentials cannot authenticate with a passkey, so the call fails with
// ErrNotFound before any challenge is issued.
func (s *PasskeyService) BeginLogin(ctx context.Context, userID uuid.UUID) (*protocol.CredentialAssertion, error) {
	waUser, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(waUser.creds) == 0 {
		return nil, ErrNotFound
	}

	options, session, err := s.WebAuthn.BeginLogin(waUser)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	if err := s.Challenges.Issue(ctx, userID, models.CeremonyAuthentication, []byte(session.Challenge), string(sessionJSON)); err != nil {
		return nil, err
	}

	return options, nil
}

// FinishLogin consumes the pending authentication challenge, verifies the
// assertion against the stored credential and advances the sign counter. The
// counter update is the authoritative replay guard: a counter that does not
// strictly increase fails the ceremony even when the signature itself
// verified.
func (s *PasskeyService) FinishLogin(ctx context.Context, userID uuid.UUID, response []byte) (*models.User, error) {
	sessionJSON, err := s.Challenges.Consume(ctx, userID, models.CeremonyAuthentication)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed assertion response", ErrValidationFailed)
	}

	stored, err := s.Creds.FindByID(ctx, parsed.RawID)
	if err != nil {
		return nil, err
	}
	if stored.UserID != userID {
		return nil, ErrNotFound
	}

	waUser, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	credential, err := s.WebAuthn.ValidateLogin(waUser, session, parsed)
	if err != nil {
		logger.Warn("passkey_assertion_rejected", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: assertion verification", ErrValidationFailed)
	}

	if err := s.Creds.UpdateCounter(ctx, credential.ID, credential.Authenticator.SignCount); err != nil {
		return nil, err
	}

	return &waUser.user, nil
}
