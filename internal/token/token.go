// Package token implements the opaque bearer tokens that identify a session.
//
// A token is 37 bytes: a big-endian int32 user id, a '.' separator and a
// 32 byte random nonce, encoded as unpadded base64url. Only the nonce is
// persisted server side, so a structurally valid token is worthless unless a
// matching session record exists.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/loft/internal/apperr"
)

const (
	// NonceSize is the number of random bytes bound to a session
	NonceSize = 32

	tokenSize = 4 + 1 + NonceSize
	separator = '.'
)

// ErrMalformed is returned when a string does not decode to a token
var ErrMalformed = errors.New("malformed token")

// Strict rejects strings whose trailing bits are not zero, so every token has one encoding.
var encoding = base64.RawURLEncoding.Strict()

// Token binds a user id to a session nonce
type Token struct {
	UserID int32
	Nonce  [NonceSize]byte
}

// Issue creates a token with a fresh random nonce. The caller is responsible for persisting it.
func Issue(userID int32) (Token, error) {
	t := Token{UserID: userID}
	if _, err := rand.Read(t.Nonce[:]); err != nil {
		return Token{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return t, nil
}

// Encode returns the bearer string for t.
func (t Token) Encode() string {
	var buf [tokenSize]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(t.UserID))
	buf[4] = separator
	copy(buf[5:], t.Nonce[:])
	return encoding.EncodeToString(buf[:])
}

// EncodedNonce is the form of the nonce stored in the session table.
func (t Token) EncodedNonce() string {
	return encoding.EncodeToString(t.Nonce[:])
}

// Decode parses a bearer string produced by Encode.
func Decode(s string) (Token, error) {
	buf, err := encoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(buf) != tokenSize {
		return Token{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, tokenSize, len(buf))
	}
	if buf[4] != separator {
		return Token{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}

	var t Token
	t.UserID = int32(binary.BigEndian.Uint32(buf[:4]))
	copy(t.Nonce[:], buf[5:])
	return t, nil
}

// SessionStore is the persistence the service checks tokens against
type SessionStore interface {
	Exists(ctx context.Context, nonce string, userID int32) (bool, error)
}

// Service authorizes bearer tokens against persisted sessions
type Service struct {
	sessions SessionStore
}

func NewService(sessions SessionStore) *Service {
	return &Service{sessions: sessions}
}

// Authorize returns the user id bound to encoded if a live session exists for it.
func (s *Service) Authorize(ctx context.Context, encoded string) (int32, error) {
	t, err := Decode(encoded)
	if err != nil {
		return 0, apperr.Unauthorized("Invalid token")
	}

	ok, err := s.sessions.Exists(ctx, t.EncodedNonce(), t.UserID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("failed to look up session: %w", err))
	}
	if !ok {
		return 0, apperr.Unauthorized("Invalid token")
	}
	return t.UserID, nil
}
