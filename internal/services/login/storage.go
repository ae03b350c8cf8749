package login

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/ternarybob/dracma/internal/models"
)

// StorageState is the browser session snapshot written after authentication:
// cookies plus localStorage per origin.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LocalStorageItem returns the first value stored under key in any origin
func (s *StorageState) LocalStorageItem(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, origin := range s.Origins {
		for _, item := range origin.LocalStorage {
			if item.Name == key {
				return item.Value, true
			}
		}
	}
	return "", false
}

// SaveStorageState writes the snapshot as indented JSON, owner-readable only
func SaveStorageState(path string, state *StorageState) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create storage state directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage state: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage state: %w", err)
	}
	return nil
}

// LoadStorageState reads a snapshot written by SaveStorageState
func LoadStorageState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse storage state: %w", err)
	}
	return &state, nil
}

// SavedTokens returns the token pair held under key in the snapshot at path.
// It fails when the file is unreadable or holds no complete pair.
func SavedTokens(path, key string) (*models.TokenPair, error) {
	state, err := LoadStorageState(path)
	if err != nil {
		return nil, err
	}
	raw, ok := state.LocalStorageItem(key)
	if !ok {
		return nil, fmt.Errorf("storage state has no %s entry", key)
	}
	pair := ExtractTokens(raw)
	if pair == nil {
		return nil, fmt.Errorf("storage state %s entry holds no token pair", key)
	}
	return pair, nil
}

// ExtractTokens parses the localStorage token value. It returns nil unless
// the value is a JSON object with non-empty string idToken and refreshToken.
func ExtractTokens(raw string) *models.TokenPair {
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil
	}

	idToken := parsed.Get("idToken")
	refreshToken := parsed.Get("refreshToken")
	if idToken.Type != gjson.String || refreshToken.Type != gjson.String {
		return nil
	}
	return models.NewTokenPair(idToken.Str, refreshToken.Str)
}
