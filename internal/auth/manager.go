// Package auth guards the control socket: clients pair once for a
// bearer token, every other command must present it.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	tokenBytes      = 32 // 256-bit tokens
	maxAuthFailures = 5
	lockoutDuration = 60 * time.Second
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrUnauthorized   = errors.New("unauthorized")
)

// Manager issues and validates client tokens.
type Manager struct {
	store    *Store
	testMode bool

	mu           sync.Mutex
	authFailures map[string]int
	lockouts     map[string]time.Time
}

// NewManager creates a manager backed by store. In test mode pairing
// skips the desktop notification and approval is implicit.
func NewManager(store *Store, testMode bool) *Manager {
	return &Manager{
		store:        store,
		testMode:     testMode,
		authFailures: make(map[string]int),
		lockouts:     make(map[string]time.Time),
	}
}

// Pair registers a new client and returns its token and ID. The daemon
// owner is told about the new pairing via desktop notification; only
// the token's hash is stored.
func (m *Manager) Pair(clientName string) (token, clientID string, notified bool, err error) {
	clientID = generateClientID()
	token, err = generateToken()
	if err != nil {
		return "", "", false, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := m.store.AddClient(clientID, clientName, token); err != nil {
		return "", "", false, fmt.Errorf("failed to store client: %w", err)
	}

	if m.testMode {
		return token, clientID, false, nil
	}

	if err := showPairingNotification(clientName); err != nil {
		// The pairing still stands, the owner just was not told.
		log.Printf("[AUTH] Pairing notification failed: %v", err)
		return token, clientID, false, nil
	}
	return token, clientID, true, nil
}

// ValidateToken reports whether a presented token belongs to a paired
// client.
func (m *Manager) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	return m.store.ValidateToken(token)
}

// RecordAuthFailure counts a failed validation per peer. Enough
// failures trigger a timed lockout.
func (m *Manager) RecordAuthFailure(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authFailures[peer]++
	if m.authFailures[peer] >= maxAuthFailures {
		m.lockouts[peer] = time.Now().Add(lockoutDuration)
		m.authFailures[peer] = 0
		log.Printf("[AUTH] Peer %s locked out for %s", peer, lockoutDuration)
	}
}

// IsLockedOut reports whether a peer is currently locked out, clearing
// expired entries as a side effect.
func (m *Manager) IsLockedOut(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.lockouts[peer]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.lockouts, peer)
		return false
	}
	return true
}

// RevokeClient removes a paired client.
func (m *Manager) RevokeClient(clientID string) error {
	return m.store.RemoveClient(clientID)
}

// ListClients returns all paired clients.
func (m *Manager) ListClients() []ClientInfo {
	return m.store.ListClients()
}

// ClientInfo is the public view of a paired client.
type ClientInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashToken is the storage form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
