package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// StoredClient is the on-disk record of a paired client. Only the token
// hash is persisted.
type StoredClient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists paired clients to a JSON file (clients.json in the
// config dir).
type Store struct {
	path string

	mu      sync.RWMutex
	clients map[string]*StoredClient
}

// NewStore opens the client store at path, creating an empty one when
// the file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		clients: make(map[string]*StoredClient),
	}
	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load client store: %w", err)
		}
	}
	return s, nil
}

// AddClient records a newly paired client.
func (s *Store) AddClient(clientID, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[clientID] = &StoredClient{
		ID:        clientID,
		Name:      name,
		TokenHash: HashToken(token),
		CreatedAt: time.Now(),
	}
	return s.saveLocked()
}

// RemoveClient forgets a client, invalidating its token.
func (s *Store) RemoveClient(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	delete(s.clients, clientID)
	return s.saveLocked()
}

// ValidateToken reports whether the token hashes to any stored client.
func (s *Store) ValidateToken(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash := []byte(HashToken(token))
	for _, client := range s.clients {
		if subtle.ConstantTimeCompare(hash, []byte(client.TokenHash)) == 1 {
			return true
		}
	}
	return false
}

// ClientByToken resolves a token back to its client record.
func (s *Store) ClientByToken(token string) (*StoredClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash := []byte(HashToken(token))
	for _, client := range s.clients {
		if subtle.ConstantTimeCompare(hash, []byte(client.TokenHash)) == 1 {
			c := *client
			return &c, nil
		}
	}
	return nil, ErrClientNotFound
}

// ListClients returns all paired clients sorted by pairing time.
func (s *Store) ListClients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, client := range s.clients {
		out = append(out, ClientInfo{
			ID:        client.ID,
			Name:      client.Name,
			CreatedAt: client.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var stored struct {
		Clients []*StoredClient `json:"clients"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse client store: %w", err)
	}

	s.clients = make(map[string]*StoredClient, len(stored.Clients))
	for _, client := range stored.Clients {
		s.clients[client.ID] = client
	}
	return nil
}

func (s *Store) saveLocked() error {
	clients := make([]*StoredClient, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].CreatedAt.Before(clients[j].CreatedAt) })

	data, err := json.MarshalIndent(struct {
		Clients []*StoredClient `json:"clients"`
	}{clients}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write client store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace client store: %w", err)
	}
	return nil
}
