// Package keygen generates API credentials and idempotency keys.
package keygen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const alphaNumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// APIKeySet contains the generated API credentials
type APIKeySet struct {
	APIKey    string
	APISecret string
}

// GenerateAPIKey generates a 64-character alphanumeric key/secret pair
func GenerateAPIKey() (*APIKeySet, error) {
	apiKey, err := randomString(64, alphaNumeric)
	if err != nil {
		return nil, err
	}

	apiSecret, err := randomString(64, alphaNumeric)
	if err != nil {
		return nil, err
	}

	return &APIKeySet{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}, nil
}

// SweepIdempotencyKey derives the settlement idempotency key for a trigger
// event. One key per (position, trigger kind, sample time), so a retried
// sweep for the same event replays instead of double-settling.
func SweepIdempotencyKey(positionID uint, kind string, sampledAt time.Time) string {
	return fmt.Sprintf("sweep:%d:%s:%d", positionID, kind, sampledAt.Unix())
}

// ManualIdempotencyKey generates a fresh key for a user-initiated close when
// the client did not supply one.
func ManualIdempotencyKey(positionID uint) string {
	return fmt.Sprintf("manual:%d:%s", positionID, uuid.New().String())
}

// randomString generates a random string from the given charset
func randomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))

	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}

	return string(result), nil
}
