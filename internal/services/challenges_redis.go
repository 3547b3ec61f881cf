package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agendly/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore keeps challenges in Redis with a native TTL. Expiry is
// enforced by the server, so a stale challenge surfaces as ErrNotFound rather
// than ErrExpired; both are terminal for the ceremony attempt.
type RedisChallengeStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisChallengeStore(client *redis.Client, ttl time.Duration) *RedisChallengeStore {
	return &RedisChallengeStore{Client: client, TTL: ttl}
}

func challengeKey(userID uuid.UUID, ceremony models.CeremonyType) string {
	return fmt.Sprintf("webauthn:challenge:%s:%s", userID, ceremony)
}

func (s *RedisChallengeStore) Issue(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType, _ []byte, sessionData string) error {
	// SET overwrites the previous value, which is exactly the
	// last-writer-wins semantics the store guarantees.
	if err := s.Client.Set(ctx, challengeKey(userID, ceremony), sessionData, s.TTL).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrExternalService, err)
	}
	return nil
}

func (s *RedisChallengeStore) Consume(ctx context.Context, userID uuid.UUID, ceremony models.CeremonyType) (string, error) {
	value, err := s.Client.GetDel(ctx, challengeKey(userID, ceremony)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: redis getdel: %v", ErrExternalService, err)
	}
	return value, nil
}
