// Package config stores connection profiles in the OS keychain and resolves
// the active one from environment overrides, a named profile, or the stored
// default. An optional ~/.config/chathook/.env file is loaded once per
// process before any lookup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
)

const (
	serviceName       = "chathook"
	accountKey        = "default"
	defaultProfile    = "default"
	profilePrefix     = "profile:"
	profileIndexKey   = "profiles_index"
	currentProfileKey = "current_profile"

	envKeyringBackend  = "CHATHOOK_KEYRING_BACKEND"
	envKeyringPassword = "CHATHOOK_KEYRING_PASSWORD"
	envCredentialsDir  = "CHATHOOK_CREDENTIALS_DIR"

	keyringBackendAuto   = "auto"
	keyringBackendFile   = "file"
	keyringBackendSystem = "system"
)

// Refresh presets offered by the inbox, in seconds.
var RefreshPresets = []int{10, 30, 60, 300}

// DefaultRefreshSeconds is the polling cadence used when nothing is stored.
const DefaultRefreshSeconds = 30

// openKeyring is a package-level function for opening keyrings.
// It can be replaced in tests to use a mock keyring.
var openKeyring = func(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

var userConfigDir = os.UserConfigDir

var stdinHasTTY = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// SetOpenKeyring allows replacing the keyring opener for testing.
// Returns a cleanup function that restores the original.
func SetOpenKeyring(fn func(keyring.Config) (keyring.Keyring, error)) func() {
	original := openKeyring
	openKeyring = fn
	return func() { openKeyring = original }
}

var dotenvOnce sync.Once

// autoloadDotenv loads ~/.config/chathook/.env if present. Variables already
// set in the environment win.
func autoloadDotenv() {
	dotenvOnce.Do(func() {
		dir, err := userConfigDir()
		if err != nil || strings.TrimSpace(dir) == "" {
			return
		}
		path := filepath.Join(dir, serviceName, ".env")
		if _, err := os.Stat(path); err != nil {
			return
		}
		_ = godotenv.Load(path)
	})
}

// RefreshSettings holds the polling preferences for a profile.
type RefreshSettings struct {
	IntervalSeconds int  `json:"interval_seconds"`
	Enabled         bool `json:"enabled"`
}

// Account holds the proxy connection details for one profile.
type Account struct {
	BaseURL    string           `json:"base_url"`
	ProxyToken string           `json:"proxy_token"`
	AccountID  int              `json:"account_id"`
	KanbanDSN  string           `json:"kanban_dsn,omitempty"`
	Refresh    *RefreshSettings `json:"refresh,omitempty"`
}

// RefreshOrDefault returns the stored refresh settings, normalized, or the
// defaults when none are stored.
func (a Account) RefreshOrDefault() RefreshSettings {
	if a.Refresh == nil {
		return RefreshSettings{IntervalSeconds: DefaultRefreshSeconds, Enabled: true}
	}
	out := *a.Refresh
	out.IntervalSeconds = NormalizeRefreshSeconds(out.IntervalSeconds)
	return out
}

// NormalizeRefreshSeconds validates a refresh interval. The presets are
// what the UI offers, but any positive value is accepted; only zero and
// negative values fall back to the default.
func NormalizeRefreshSeconds(secs int) int {
	if secs > 0 {
		return secs
	}
	return DefaultRefreshSeconds
}

// ErrNotConfigured is returned when no account is configured
var ErrNotConfigured = errors.New("chathook not configured - run 'chathook auth login' first")

// keyringConfig returns the keyring configuration
func keyringConfig() keyring.Config {
	cfg := keyring.Config{
		ServiceName: serviceName,
	}

	backend := keyringBackendMode()
	if backend == keyringBackendSystem {
		return cfg
	}

	// Always configure file backend details in auto mode so keyring.Open can
	// fall through to encrypted file storage when native backends are missing.
	configureFileBackend(&cfg)

	// Headless Linux should bypass other backends and use encrypted file storage.
	if shouldForceFileBackend(runtime.GOOS, backend, os.Getenv("DBUS_SESSION_BUS_ADDRESS")) {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}

	return cfg
}

func keyringBackendMode() string {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(envKeyringBackend)))
	switch backend {
	case "", keyringBackendAuto:
		return keyringBackendAuto
	case keyringBackendFile:
		return keyringBackendFile
	case keyringBackendSystem, "os", "native":
		return keyringBackendSystem
	default:
		return keyringBackendAuto
	}
}

func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	if backend == keyringBackendFile {
		return true
	}
	if backend != keyringBackendAuto {
		return false
	}
	return goos == "linux" && strings.TrimSpace(dbusAddr) == ""
}

func configureFileBackend(cfg *keyring.Config) {
	cfg.FileDir = keyringFileDir()
	cfg.FilePasswordFunc = keyringFilePassword
}

func keyringFileDir() string {
	base := strings.TrimSpace(os.Getenv(envCredentialsDir))
	if base == "" {
		if dir, err := userConfigDir(); err == nil && strings.TrimSpace(dir) != "" {
			base = filepath.Join(dir, serviceName)
		}
	}
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			base = filepath.Join(home, ".config", serviceName)
		}
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), serviceName)
	}
	return filepath.Join(base, "keyring")
}

func keyringFilePassword(prompt string) (string, error) {
	if password := os.Getenv(envKeyringPassword); strings.TrimSpace(password) != "" {
		return password, nil
	}
	if !stdinHasTTY() {
		return "", fmt.Errorf("set %s when using file keyring in non-interactive environments", envKeyringPassword)
	}
	return keyring.TerminalPrompt(prompt)
}

func profileKey(name string) string {
	if name == "" {
		name = defaultProfile
	}
	if name == defaultProfile {
		return accountKey
	}
	return profilePrefix + name
}

func loadProfileIndex(ring keyring.Keyring) ([]string, error) {
	item, err := ring.Get(profileIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to get profile index: %w", err)
	}
	var profiles []string
	if err := json.Unmarshal(item.Data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile index: %w", err)
	}
	return profiles, nil
}

func saveProfileIndex(ring keyring.Keyring, profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profile index: %w", err)
	}
	return ring.Set(keyring.Item{
		Key:  profileIndexKey,
		Data: data,
	})
}

func normalizeProfiles(profiles []string) []string {
	seen := make(map[string]struct{}, len(profiles))
	var out []string
	for _, p := range profiles {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SaveAccount stores the account credentials in the OS keychain
func SaveAccount(account Account) error {
	return SaveProfile(defaultProfile, account)
}

// LoadAccount resolves the active account: environment overrides first, then
// CHATHOOK_PROFILE, then the stored current profile.
func LoadAccount() (Account, error) {
	autoloadDotenv()

	if baseURL := strings.TrimSpace(os.Getenv("CHATHOOK_BASE_URL")); baseURL != "" {
		token := strings.TrimSpace(os.Getenv("CHATHOOK_PROXY_TOKEN"))
		accountIDStr := strings.TrimSpace(os.Getenv("CHATHOOK_ACCOUNT_ID"))
		if token == "" || accountIDStr == "" {
			return Account{}, fmt.Errorf("environment variables CHATHOOK_BASE_URL, CHATHOOK_PROXY_TOKEN, and CHATHOOK_ACCOUNT_ID must all be set")
		}
		accountID, err := strconv.Atoi(accountIDStr)
		if err != nil || accountID <= 0 {
			return Account{}, fmt.Errorf("CHATHOOK_ACCOUNT_ID must be a positive integer")
		}
		return Account{
			BaseURL:    strings.TrimSuffix(baseURL, "/"),
			ProxyToken: token,
			AccountID:  accountID,
			KanbanDSN:  strings.TrimSpace(os.Getenv("CHATHOOK_KANBAN_DSN")),
		}, nil
	}

	if profile := strings.TrimSpace(os.Getenv("CHATHOOK_PROFILE")); profile != "" {
		return LoadProfile(profile)
	}

	current, err := CurrentProfile()
	if err != nil {
		return Account{}, err
	}
	return LoadProfile(current)
}

// SaveProfile stores the account credentials under a named profile
func SaveProfile(profile string, account Account) error {
	if profile == "" {
		profile = defaultProfile
	}

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	if err := ring.Set(keyring.Item{
		Key:  profileKey(profile),
		Data: data,
	}); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	profiles, err := loadProfileIndex(ring)
	if err != nil {
		return err
	}
	profiles = normalizeProfiles(append(profiles, profile))
	if err := saveProfileIndex(ring, profiles); err != nil {
		return err
	}

	return SetCurrentProfile(profile)
}

// LoadProfile retrieves credentials for a named profile
func LoadProfile(profile string) (Account, error) {
	if profile == "" {
		profile = defaultProfile
	}

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return Account{}, fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := ring.Get(profileKey(profile))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Account{}, ErrNotConfigured
		}
		return Account{}, fmt.Errorf("failed to get profile: %w", err)
	}

	var account Account
	if err := json.Unmarshal(item.Data, &account); err != nil {
		return Account{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	// Environment overrides apply on top of a stored profile too.
	if dsn := strings.TrimSpace(os.Getenv("CHATHOOK_KANBAN_DSN")); dsn != "" {
		account.KanbanDSN = dsn
	}

	return account, nil
}

// DeleteAccount removes the account credentials from the OS keychain
func DeleteAccount() error {
	return DeleteProfile(defaultProfile)
}

// DeleteProfile removes a stored profile
func DeleteProfile(profile string) error {
	if profile == "" {
		profile = defaultProfile
	}

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	if err := ring.Remove(profileKey(profile)); err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove profile: %w", err)
		}
	}

	profiles, err := loadProfileIndex(ring)
	if err != nil {
		return err
	}
	var remaining []string
	for _, p := range profiles {
		if p != profile {
			remaining = append(remaining, p)
		}
	}
	if err := saveProfileIndex(ring, remaining); err != nil {
		return err
	}

	current, err := CurrentProfile()
	if err == nil && current == profile {
		next := defaultProfile
		if len(remaining) > 0 {
			next = remaining[0]
		}
		_ = SetCurrentProfile(next)
	}

	return nil
}

// HasAccount checks if an account is configured
func HasAccount() bool {
	_, err := LoadAccount()
	return err == nil
}

// ListProfiles returns the known profile names
func ListProfiles() ([]string, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	profiles, err := loadProfileIndex(ring)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		if _, err := ring.Get(accountKey); err == nil {
			return []string{defaultProfile}, nil
		}
	}
	return profiles, nil
}

// CurrentProfile returns the active profile name
func CurrentProfile() (string, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := ring.Get(currentProfileKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return defaultProfile, nil
		}
		return "", fmt.Errorf("failed to get current profile: %w", err)
	}
	return string(item.Data), nil
}

// SetCurrentProfile sets the active profile name
func SetCurrentProfile(profile string) error {
	if profile == "" {
		profile = defaultProfile
	}

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return ring.Set(keyring.Item{
		Key:  currentProfileKey,
		Data: []byte(profile),
	})
}

// SetRefresh updates the refresh settings on the current profile.
func SetRefresh(settings RefreshSettings) error {
	current, err := CurrentProfile()
	if err != nil {
		return err
	}
	account, err := LoadProfile(current)
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		return err
	}
	settings.IntervalSeconds = NormalizeRefreshSeconds(settings.IntervalSeconds)
	account.Refresh = &settings
	return SaveProfile(current, account)
}
