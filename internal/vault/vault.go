package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Providers whose API keys the vault accepts.
var Providers = []string{"gemini", "groq", "openai", "pexels", "pixabay", "unsplash", "elevenlabs"}

var (
	// ErrUnknownProvider is returned by Set for names outside Providers.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrVaultUnavailable is returned by Set when the store file could not be read.
	ErrVaultUnavailable = errors.New("credential store unavailable")
)

const keyInfo = "video-pipeline credential vault v1"

// Vault keeps provider API keys encrypted at rest in a single JSON file.
type Vault struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	aead     cipher.AEAD
	entries  map[string]string // provider -> base64(nonce || ciphertext)
	degraded bool
	warned   map[string]bool
}

type fileFormat struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// DeriveKey expands secret into a 32-byte key with HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// LoadOrCreateSecret returns secret when set, otherwise the contents of a
// random key file under dir, creating it on first use. An existing key file
// is never replaced: if it cannot be read or is empty, that is an error.
func LoadOrCreateSecret(secret, dir string) ([]byte, error) {
	if secret != "" {
		return []byte(secret), nil
	}
	path := filepath.Join(dir, ".vault_key")
	b, err := os.ReadFile(path)
	switch {
	case err == nil && len(b) > 0:
		return b, nil
	case err == nil:
		return nil, fmt.Errorf("key file %s is empty", path)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read key file: %w", err)
	}
	b = make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return b, nil
}

// Open loads the vault at path. A missing file is an empty vault. An
// unreadable file puts the vault in degraded mode: every provider reads as
// unconfigured and writes are refused, but the process keeps running.
func Open(path string, secret []byte, logger zerolog.Logger) (*Vault, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	v := &Vault{
		path:    path,
		logger:  logger.With().Str("component", "vault").Logger(),
		aead:    aead,
		entries: map[string]string{},
		warned:  map[string]bool{},
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return v, nil
	case err != nil:
		v.degraded = true
		v.logger.Error().Err(err).Msg("credential store unreadable; providers treated as unconfigured")
		return v, nil
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		v.degraded = true
		v.logger.Error().Err(err).Msg("credential store corrupted; providers treated as unconfigured")
		return v, nil
	}
	for p, enc := range f.Entries {
		v.entries[p] = enc
	}
	return v, nil
}

// Degraded reports whether the store file could not be loaded.
func (v *Vault) Degraded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.degraded
}

// Set encrypts and persists key for provider. An empty key removes the entry.
func (v *Vault) Set(provider, key string) error {
	provider = normalize(provider)
	if !known(provider) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.degraded {
		return ErrVaultUnavailable
	}

	next := make(map[string]string, len(v.entries)+1)
	for p, enc := range v.entries {
		next[p] = enc
	}
	key = strings.TrimSpace(key)
	if key == "" {
		delete(next, provider)
	} else {
		enc, err := v.seal(provider, key)
		if err != nil {
			return err
		}
		next[provider] = enc
	}
	if err := v.persist(next); err != nil {
		return err
	}
	v.entries = next
	delete(v.warned, provider)
	return nil
}

// Get returns the plaintext key for provider. Decryption failures read as absent.
func (v *Vault) Get(provider string) (string, bool) {
	provider = normalize(provider)

	v.mu.RLock()
	enc, ok := v.entries[provider]
	degraded := v.degraded
	v.mu.RUnlock()
	if degraded || !ok {
		return "", false
	}

	plain, err := v.open(provider, enc)
	if err != nil {
		v.mu.Lock()
		if !v.warned[provider] {
			v.warned[provider] = true
			v.logger.Warn().Str("provider", provider).Msg("stored credential could not be decrypted; treating provider as unconfigured")
		}
		v.mu.Unlock()
		return "", false
	}
	return plain, true
}

// Stored lists providers that have a decryptable key in the vault.
func (v *Vault) Stored() []string {
	var out []string
	for _, p := range Providers {
		if _, ok := v.Get(p); ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// The provider name is bound as associated data so entries cannot be swapped.
func (v *Vault) seal(provider, plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), []byte(provider))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) open(provider, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode entry: %w", err)
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("entry too short")
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], []byte(provider))
	if err != nil {
		return "", fmt.Errorf("decrypt entry: %w", err)
	}
	return string(plain), nil
}

// persist writes through a temp file and rename so a crash never leaves a partial store.
func (v *Vault) persist(entries map[string]string) error {
	raw, err := json.MarshalIndent(fileFormat{Version: 1, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write vault: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vault: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("rename vault: %w", err)
	}
	return nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func known(provider string) bool {
	for _, p := range Providers {
		if p == provider {
			return true
		}
	}
	return false
}
