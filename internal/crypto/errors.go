package crypto

import "fmt"

// ErrKeyNotFound indicates a requested key version was never loaded.
type ErrKeyNotFound struct {
	Version int
}

func (e *ErrKeyNotFound) Error() string {
	return fmt.Sprintf("crypto: key version %d not loaded", e.Version)
}

// ErrCryptoUnavailable indicates the manager has no current signing/
// encryption key, so it cannot serve encrypt/hash requests at all.
type ErrCryptoUnavailable struct {
	Reason string
}

func (e *ErrCryptoUnavailable) Error() string {
	return fmt.Sprintf("crypto: unavailable: %s", e.Reason)
}

// ErrDecryptionFailed indicates a ciphertext failed authentication or
// could not be parsed. Callers must never attempt to recover partial
// plaintext from this error.
type ErrDecryptionFailed struct {
	Cause error
}

func (e *ErrDecryptionFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crypto: decryption failed: %v", e.Cause)
	}
	return "crypto: decryption failed: invalid token or wrong key"
}

func (e *ErrDecryptionFailed) Unwrap() error {
	return e.Cause
}

// ErrKeyLoadFailed indicates a key file could not be read or parsed.
type ErrKeyLoadFailed struct {
	Path  string
	Cause error
}

func (e *ErrKeyLoadFailed) Error() string {
	return fmt.Sprintf("crypto: failed to load key from %s: %v", e.Path, e.Cause)
}

func (e *ErrKeyLoadFailed) Unwrap() error {
	return e.Cause
}

// Error type classification for metrics, mirrors internal/storage/errors.go.
const (
	ErrorTypeUnavailable = "unavailable"
	ErrorTypeDecryption  = "decryption"
	ErrorTypeKeyLoad     = "key_load"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyError classifies an error for metrics labeling.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case IsUnavailableError(err):
		return ErrorTypeUnavailable
	case IsDecryptionError(err):
		return ErrorTypeDecryption
	case IsKeyLoadError(err):
		return ErrorTypeKeyLoad
	default:
		return ErrorTypeUnknown
	}
}

func IsUnavailableError(err error) bool {
	_, ok := err.(*ErrCryptoUnavailable)
	return ok
}

func IsDecryptionError(err error) bool {
	_, ok := err.(*ErrDecryptionFailed)
	return ok
}

func IsKeyLoadError(err error) bool {
	_, ok := err.(*ErrKeyLoadFailed)
	return ok
}
