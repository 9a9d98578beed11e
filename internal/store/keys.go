package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/whisperd/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPrefixLen is the number of leading characters of a raw key stored
	// in clear for lookup.
	KeyPrefixLen = 8
	rawKeyPrefix = "wd_"
)

// NewAPIKey generates a raw key and the record to persist for it. The raw
// key is returned once and never stored.
func NewAPIKey(name string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := rawKeyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:KeyPrefixLen],
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
