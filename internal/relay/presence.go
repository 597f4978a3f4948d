package relay

import (
	"sync"

	"github.com/google/uuid"
)

// Directory is the presence directory: the in-memory map from a user
// identity to the single connection that may receive signals addressed
// to that user. It is initialized at process start and passed by handle
// to the hub; all access is internally synchronized.
type Directory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Client
}

// NewDirectory creates an empty presence directory
func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[uuid.UUID]*Client),
	}
}

// Register binds userID to client, superseding any prior registration
// (last-connection-wins). It returns the superseded client, if any, so
// the caller can evict it.
func (d *Directory) Register(userID uuid.UUID, client *Client) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.entries[userID]
	d.entries[userID] = client
	return prev
}

// Lookup returns the connection currently registered for userID. A miss
// means the target is offline; callers treat it as a normal outcome.
func (d *Directory) Lookup(userID uuid.UUID) (*Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	client, ok := d.entries[userID]
	return client, ok
}

// Unregister removes the entry for userID only if client is still the
// registered connection. A stale disconnect from a superseded connection
// is a no-op and must not evict the newer registration.
func (d *Directory) Unregister(userID uuid.UUID, client *Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.entries[userID]
	if !ok || current != client {
		return false
	}
	delete(d.entries, userID)
	return true
}

// Len returns the number of registered connections
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.entries)
}
