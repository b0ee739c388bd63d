package chatapp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ============================================================================
// Store
// ============================================================================

// Store is the injected durable key-value medium behind the cache. Get
// reports whether the key existed. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-memory Store. Nothing survives the
// process; it exists for tests and for callers that opt out of durability.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ============================================================================
// FileStore
// ============================================================================

// FileStore keeps one JSON file per key under a root directory, written
// atomically via a temp file and rename, so state survives restarts.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, key+".json")
}

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// Cache
// ============================================================================

// Logical keys. The presence map, the unseen-flag map, and the session each
// live under a single key; message logs are stored per peer.
const (
	keySession  = "session"
	keyPresence = "user_statuses"
	keyUnseen   = "new_messages"
)

func messagesKey(peerID int64) string {
	return "messages_" + strconv.FormatInt(peerID, 10)
}

// Cache is the typed read/write layer over a Store. The in-memory state in
// ClientState is rehydrated from it at startup and written through on every
// mutation.
type Cache struct {
	store Store
}

func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// Presence loads the persisted presence map; a missing key yields an empty
// map, matching the default-offline rule.
func (c *Cache) Presence() (map[int64]Status, error) {
	m := make(map[int64]Status)
	if err := c.load(keyPresence, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Cache) SetPresence(m map[int64]Status) error {
	return c.save(keyPresence, m)
}

// Messages loads the persisted log for one peer; missing yields nil.
func (c *Cache) Messages(peerID int64) ([]Message, error) {
	var msgs []Message
	if err := c.load(messagesKey(peerID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Cache) SetMessages(peerID int64, msgs []Message) error {
	return c.save(messagesKey(peerID), msgs)
}

func (c *Cache) DeleteMessages(peerID int64) error {
	return c.store.Delete(messagesKey(peerID))
}

func (c *Cache) Unseen() (map[int64]bool, error) {
	m := make(map[int64]bool)
	if err := c.load(keyUnseen, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Cache) SetUnseen(m map[int64]bool) error {
	return c.save(keyUnseen, m)
}

// Session returns the persisted session, if any.
func (c *Cache) Session() (*Session, bool, error) {
	data, ok, err := c.store.Get(keySession)
	if err != nil || !ok {
		return nil, false, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &s, true, nil
}

func (c *Cache) SetSession(s Session) error {
	return c.save(keySession, s)
}

func (c *Cache) DeleteSession() error {
	return c.store.Delete(keySession)
}

func (c *Cache) load(key string, v interface{}) error {
	data, ok, err := c.store.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (c *Cache) save(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(key, data)
}
