// Package crypto implements the Crypto Service (C1): authenticated
// encryption of message bodies with key rotation, salted phone-number
// hashing, and operator password hashing. Grounded on
// _examples/original_source/main_server/encryption.py (EncryptionManager).
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager loads one encryption key per version from disk and encrypts
// new message bodies with the current version while still being able
// to decrypt bodies written under any loaded version. Safe for
// concurrent use by the gateway, worker, and registry processes.
type Manager struct {
	mu             sync.RWMutex
	keys           map[int]*fernetKey
	currentVersion int
	salt           string
}

// NewManager constructs an empty Manager. Call LoadKeyDir or LoadKey
// before encrypting or decrypting anything.
func NewManager(salt string) *Manager {
	return &Manager{
		keys: make(map[int]*fernetKey),
		salt: salt,
	}
}

// LoadKeyDir loads every "v<N>.key" file from dir and sets currentVersion
// to the highest version found. Key files hold a base64-encoded 32-byte
// Fernet-equivalent key, written with 0400 permissions by GenerateKey +
// SaveKeyToFile.
func (m *Manager) LoadKeyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &ErrKeyLoadFailed{Path: dir, Cause: err}
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "v%d.key", &version); err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := m.LoadKey(path, version); err != nil {
			return err
		}
		loaded++
	}

	if loaded == 0 {
		return &ErrKeyLoadFailed{Path: dir, Cause: fmt.Errorf("no key files matching v<N>.key found")}
	}
	return nil
}

// LoadKey loads a single key file as the given version. If version is
// the highest loaded so far it becomes the current encryption version.
func (m *Manager) LoadKey(path string, version int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ErrKeyLoadFailed{Path: path, Cause: err}
	}

	keyBytes, err := base64.StdEncoding.DecodeString(string(trimSpace(raw)))
	if err != nil {
		return &ErrKeyLoadFailed{Path: path, Cause: err}
	}

	fk, err := newFernetKey(keyBytes)
	if err != nil {
		return &ErrKeyLoadFailed{Path: path, Cause: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[version] = fk
	if version > m.currentVersion {
		m.currentVersion = version
	}
	return nil
}

// AddKeyVersion registers a new key for rotation without changing which
// version is currently used for new encryptions; call SetCurrentVersion
// once the new key has been distributed to every process that decrypts.
func (m *Manager) AddKeyVersion(path string, version int) error {
	return m.LoadKey(path, version)
}

// SetCurrentVersion switches which loaded key version new Encrypt calls use.
func (m *Manager) SetCurrentVersion(version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[version]; !ok {
		return &ErrKeyNotFound{Version: version}
	}
	m.currentVersion = version
	return nil
}

// CurrentVersion reports the key version new Encrypt calls will use.
func (m *Manager) CurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentVersion
}

// Encrypt encrypts plaintext with the current key version and returns
// base64-encoded ciphertext alongside the version used, so callers can
// store both in the messages row for later decryption.
func (m *Manager) Encrypt(plaintext string) (ciphertextB64 string, version int, err error) {
	m.mu.RLock()
	version = m.currentVersion
	key, ok := m.keys[version]
	m.mu.RUnlock()

	if !ok {
		return "", 0, &ErrCryptoUnavailable{Reason: "no encryption key loaded"}
	}

	token, err := key.encrypt([]byte(plaintext), time.Now().Unix())
	if err != nil {
		return "", 0, fmt.Errorf("crypto: encrypt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(token), version, nil
}

// Decrypt decrypts a base64-encoded body that was encrypted under the
// given key version. If that version isn't loaded, it falls back to
// the current key (mirrors encryption.py's
// `self.keys.get(key_version, self.cipher)`) and fails closed:
// ErrCryptoUnavailable if no key at all is loaded, ErrDecryptionFailed
// if the fallback key doesn't authenticate the ciphertext.
func (m *Manager) Decrypt(ciphertextB64 string, version int) (string, error) {
	m.mu.RLock()
	key, ok := m.keys[version]
	if !ok {
		key, ok = m.keys[m.currentVersion]
	}
	m.mu.RUnlock()

	if !ok {
		return "", &ErrCryptoUnavailable{Reason: fmt.Sprintf("key version %d not loaded", version)}
	}

	token, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &ErrDecryptionFailed{Cause: err}
	}

	plaintext, err := key.decrypt(token)
	if err != nil {
		return "", &ErrDecryptionFailed{Cause: err}
	}

	return string(plaintext), nil
}

// HashPhone returns the salted SHA-256 hex digest of an E.164 phone
// number, matching EncryptionManager.hash_phone_number. The hash is
// deterministic (same input always yields the same digest) so it can
// be used as a lookup key without ever storing the phone number itself.
func (m *Manager) HashPhone(phoneNumber string) string {
	sum := sha256.Sum256([]byte(m.salt + phoneNumber))
	return hex.EncodeToString(sum[:])
}

// VerifyPhoneHash reports whether phoneNumber hashes to hashValue.
func (m *Manager) VerifyPhoneHash(phoneNumber, hashValue string) bool {
	return m.HashPhone(phoneNumber) == hashValue
}

// GenerateKey returns 32 bytes of random key material suitable for a
// new Fernet-equivalent key version.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SaveKeyToFile base64-encodes key and writes it to path with 0400
// permissions, creating parent directories as needed. Mirrors
// EncryptionManager.save_key_to_file.
func SaveKeyToFile(key []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o400); err != nil {
		return err
	}
	return os.Chmod(path, 0o400)
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
