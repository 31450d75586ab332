// Package profile persists Copilot credential profiles and the
// active-profile marker under a per-user config directory, and performs
// legacy single-credential migration. Grounded on CLIProxyAPI's
// coreauth.Auth persisted-credential shape (sdk/auth/github_copilot.go)
// and CopilotTokenStorage fields (internal/auth/copilot/auth.go).
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// User is the profile's user descriptor.
type User struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Profile is a credential bundle identifying one upstream user.
type Profile struct {
	ID           string   `json:"id"`
	Provider     string   `json:"provider"`
	PrimaryToken string   `json:"primary_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	UpdatedAt    int64    `json:"updated_at"`
	LastModels   []string `json:"last_models,omitempty"`
	User         User     `json:"user"`
}

// legacyAuth is the shape of the legacy single-profile auth.json mirror.
type legacyAuth struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Login        string `json:"login,omitempty"`
	Email        string `json:"email,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// Store persists profiles and the active-profile marker under dir. All
// files are written with owner-only permissions.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New constructs a Store rooted at dir, creating it with owner-only
// permissions if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) profilesPath() string      { return filepath.Join(s.dir, "profiles.json") }
func (s *Store) activeProfilePath() string { return filepath.Join(s.dir, "active-profile") }
func (s *Store) authJSONPath() string      { return filepath.Join(s.dir, "auth.json") }
func (s *Store) legacyTokenPath() string   { return filepath.Join(s.dir, "token") }

// GenerateID derives a profile's stable id from its provider and login.
func GenerateID(provider, login string) string {
	return fmt.Sprintf("%s-%s", provider, login)
}

// LoadProfiles returns every persisted profile, keyed by id. It performs
// legacy auth.json migration the first time profiles.json is found empty.
func (s *Store) LoadProfiles() (map[string]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProfilesLocked()
}

func (s *Store) loadProfilesLocked() (map[string]Profile, error) {
	profiles, err := s.readProfilesFile()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		if migrated, ok := s.migrateLegacyLocked(); ok {
			profiles[migrated.ID] = migrated
			if err := s.writeProfilesFileLocked(profiles); err != nil {
				return nil, err
			}
		}
	}
	return profiles, nil
}

func (s *Store) readProfilesFile() (map[string]Profile, error) {
	raw, err := os.ReadFile(s.profilesPath())
	if os.IsNotExist(err) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var profiles map[string]Profile
	if jsonErr := json.Unmarshal(raw, &profiles); jsonErr != nil {
		log.Warnf("profile: %s is malformed, starting empty: %v", s.profilesPath(), jsonErr)
		return map[string]Profile{}, nil
	}
	if profiles == nil {
		profiles = map[string]Profile{}
	}
	return profiles, nil
}

// migrateLegacyLocked creates a synthetic profile from auth.json/token
// when no profiles exist, so legacy users do not silently lose access.
func (s *Store) migrateLegacyLocked() (Profile, bool) {
	raw, err := os.ReadFile(s.authJSONPath())
	if err != nil {
		if legacyTok, tokErr := os.ReadFile(s.legacyTokenPath()); tokErr == nil {
			tok := strings.TrimSpace(string(legacyTok))
			if tok == "" {
				return Profile{}, false
			}
			return s.syntheticProfile(tok, "", "github"), true
		}
		return Profile{}, false
	}
	var legacy legacyAuth
	if jsonErr := json.Unmarshal(raw, &legacy); jsonErr != nil || legacy.Token == "" {
		return Profile{}, false
	}
	provider := legacy.Provider
	if provider == "" {
		provider = "github"
	}
	p := s.syntheticProfile(legacy.Token, legacy.RefreshToken, provider)
	if legacy.Login != "" {
		p.User.Login = legacy.Login
	}
	p.User.Email = legacy.Email
	return p, true
}

func (s *Store) syntheticProfile(token, refresh, provider string) Profile {
	return Profile{
		ID:           GenerateID(provider, "unknown"),
		Provider:     provider,
		PrimaryToken: token,
		RefreshToken: refresh,
		UpdatedAt:    time.Now().UnixMilli(),
		User:         User{Login: "unknown"},
	}
}

func (s *Store) writeProfilesFileLocked(profiles map[string]Profile) error {
	raw, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.profilesPath(), raw, 0o600)
}

// SaveProfile persists p under id, creating or overwriting the entry. If
// id is the active profile, the legacy single-credential mirror is kept
// in sync for backwards compatibility.
func (s *Store) SaveProfile(id string, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadProfilesLocked()
	if err != nil {
		return err
	}
	p.ID = id
	profiles[id] = p
	if err := s.writeProfilesFileLocked(profiles); err != nil {
		return err
	}

	active, err := s.readActiveLocked()
	if err != nil {
		return err
	}
	if active == id {
		if err := s.writeLegacyMirrorLocked(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeLegacyMirrorLocked(p Profile) error {
	legacy := legacyAuth{
		Token:        p.PrimaryToken,
		RefreshToken: p.RefreshToken,
		Login:        p.User.Login,
		Email:        p.User.Email,
		Provider:     p.Provider,
	}
	raw, err := json.MarshalIndent(legacy, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.authJSONPath(), raw, 0o600)
}

// DeleteProfile removes the profile with id. If it was active, the
// active marker is cleared and, if any profiles remain, an arbitrary
// remaining profile is promoted to active.
func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.loadProfilesLocked()
	if err != nil {
		return err
	}
	delete(profiles, id)
	if err := s.writeProfilesFileLocked(profiles); err != nil {
		return err
	}

	active, err := s.readActiveLocked()
	if err != nil {
		return err
	}
	if active != id {
		return nil
	}
	if err := s.clearActiveLocked(); err != nil {
		return err
	}
	for remainingID := range profiles {
		return s.setActiveLocked(remainingID)
	}
	return nil
}

func (s *Store) readActiveLocked() (string, error) {
	raw, err := os.ReadFile(s.activeProfilePath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *Store) setActiveLocked(id string) error {
	return os.WriteFile(s.activeProfilePath(), []byte(id+"\n"), 0o600)
}

func (s *Store) clearActiveLocked() error {
	err := os.Remove(s.activeProfilePath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetActive returns the active profile id, if any. When no marker is
// set and exactly one profile exists, that profile is auto-selected and
// persisted as active.
func (s *Store) GetActive() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.readActiveLocked()
	if err != nil {
		return "", false, err
	}
	if active != "" {
		return active, true, nil
	}

	profiles, err := s.loadProfilesLocked()
	if err != nil {
		return "", false, err
	}
	if len(profiles) != 1 {
		return "", false, nil
	}
	for id := range profiles {
		if err := s.setActiveLocked(id); err != nil {
			return "", false, err
		}
		return id, true, nil
	}
	return "", false, nil
}

// SetActive persists id as the active profile marker.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setActiveLocked(id)
}

// GetProfile returns a single profile by id.
func (s *Store) GetProfile(id string) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.loadProfilesLocked()
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := profiles[id]
	return p, ok, nil
}
