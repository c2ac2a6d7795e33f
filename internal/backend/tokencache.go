package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/adrg/xdg"
)

// TokenCache persists the current session token across process restarts
// so startup restoration can resolve it silently.
type TokenCache struct {
	path string
}

// NewTokenCache places the cache file under the XDG state directory.
func NewTokenCache() (*TokenCache, error) {
	path, err := xdg.StateFile("shipcode/session")
	if err != nil {
		return nil, fmt.Errorf("resolve session cache path: %w", err)
	}
	return &TokenCache{path: path}, nil
}

// NewTokenCacheAt uses an explicit path (tests).
func NewTokenCacheAt(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Load returns the cached token, or "" when none is stored.
func (c *TokenCache) Load() (string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session cache: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *TokenCache) Store(token string) error {
	if err := os.WriteFile(c.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}

// Clear removes the cached token. Clearing an absent cache is a no-op.
func (c *TokenCache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session cache: %w", err)
	}
	return nil
}
