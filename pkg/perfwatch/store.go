package perfwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store is the key/value backend behind HostPlatform persistence.
type Store interface {
	// Load returns nil, nil when key is absent.
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// Load returns a copy of the stored value.
func (s *MemoryStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Save stores a copy of value.
func (s *MemoryStore) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps one JSON file per key inside a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

// Load reads the file for key.
func (s *FileStore) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Save writes value through a temp file and rename so readers never see a torn file.
func (s *FileStore) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.Path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// RedisStore keeps values in Redis under a key prefix.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  "perfwatch:store:",
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
	}
}

// Load fetches key.
func (s *RedisStore) Load(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Save stores key with the configured TTL (0 keeps it forever).
func (s *RedisStore) Save(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
