// Package keys manages the access key file shared by the API and the key CLI.
package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrUnknownKey is returned for keys that are not in the file.
	ErrUnknownKey = errors.New("unknown access key")
	// ErrRevokedKey is returned for keys that were revoked.
	ErrRevokedKey = errors.New("access key revoked")
	// ErrKeyNotFound is returned when revoking an id that does not exist.
	ErrKeyNotFound = errors.New("key not found")
)

// keyBytes is the amount of randomness in a generated key.
const keyBytes = 16

// Key is one entry of the key file.
type Key struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Comment string `json:"comment"`
	Revoked bool   `json:"revoked"`
}

// File is the JSON key file. Validation reloads it when it changed on disk so
// revocations apply without a restart.
type File struct {
	path string

	mu      sync.RWMutex
	keys    []Key
	modTime time.Time
}

// Load reads path. A missing file is an empty key set.
func Load(path string) (*File, error) {
	f := &File{path: path}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

func (f *File) reload() error {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.mu.Lock()
		f.keys, f.modTime = nil, time.Time{}
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat key file: %w", err)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	var keys []Key
	if len(data) > 0 {
		if err := json.Unmarshal(data, &keys); err != nil {
			return fmt.Errorf("failed to parse key file %s: %w", f.path, err)
		}
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k.ID] {
			return fmt.Errorf("key file %s: duplicate id %s", f.path, k.ID)
		}
		seen[k.ID] = true
	}

	f.mu.Lock()
	f.keys, f.modTime = keys, info.ModTime()
	f.mu.Unlock()
	return nil
}

func (f *File) refresh() error {
	info, err := os.Stat(f.path)
	f.mu.RLock()
	stale := (err == nil && !info.ModTime().Equal(f.modTime)) || (err != nil && !f.modTime.IsZero())
	f.mu.RUnlock()
	if !stale {
		return nil
	}
	return f.reload()
}

// List returns a copy of every key in file order.
func (f *File) List() []Key {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Key(nil), f.keys...)
}

// Add generates a new key. Ids are sequential.
func (f *File) Add(comment string) (Key, error) {
	secret, err := generate()
	if err != nil {
		return Key{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := 1
	if n := len(f.keys); n > 0 {
		last, err := strconv.Atoi(f.keys[n-1].ID)
		if err != nil {
			return Key{}, fmt.Errorf("last key id %q is not numeric", f.keys[n-1].ID)
		}
		next = last + 1
	}

	k := Key{ID: strconv.Itoa(next), Key: secret, Comment: comment}
	f.keys = append(f.keys, k)
	return k, nil
}

// Revoke marks the key with id as revoked.
func (f *File) Revoke(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.keys {
		if f.keys[i].ID == id {
			f.keys[i].Revoked = true
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrKeyNotFound)
}

// Save writes the key file through a temporary file and a rename.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := f.keys
	if keys == nil {
		keys = []Key{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".keyfile-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace key file: %w", err)
	}

	if info, err := os.Stat(f.path); err == nil {
		f.modTime = info.ModTime()
	}
	return nil
}

// Validate returns the id of an active key.
func (f *File) Validate(secret string) (string, error) {
	if err := f.refresh(); err != nil {
		return "", err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, k := range f.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(secret)) == 1 {
			if k.Revoked {
				return "", ErrRevokedKey
			}
			return k.ID, nil
		}
	}
	return "", ErrUnknownKey
}

// ValidateID reports whether the key with id exists and is not revoked.
func (f *File) ValidateID(id string) error {
	if err := f.refresh(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, k := range f.keys {
		if k.ID == id {
			if k.Revoked {
				return ErrRevokedKey
			}
			return nil
		}
	}
	return ErrUnknownKey
}

func generate() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
