package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
)

// token implements a Fernet-compatible authenticated-encryption scheme:
// AES-128-CBC for confidentiality, HMAC-SHA256 for integrity, applied
// as encrypt-then-MAC over a versioned, timestamped envelope. The
// Python original (cryptography.fernet.Fernet) used the same wire
// format; no library in the example pack implements it, so this is
// built directly on crypto/aes, crypto/cipher and crypto/hmac (see
// DESIGN.md for why no third-party AEAD/Fernet library was substituted).
//
// Envelope layout (before HMAC is appended):
//
//	byte 0        version marker, always 0x80
//	bytes 1-8     big-endian unix timestamp (informational only)
//	bytes 9-24    16-byte random IV
//	bytes 25-N    AES-128-CBC ciphertext, PKCS#7 padded
//	bytes N-N+32  HMAC-SHA256 over bytes 0..N, keyed by the signing key
const tokenVersion = 0x80

var errShortToken = errors.New("token shorter than minimum envelope size")
var errBadVersion = errors.New("unrecognized token version byte")
var errBadMAC = errors.New("HMAC verification failed")

// fernetKey holds the two 16-byte halves Fernet derives from a 32-byte key.
type fernetKey struct {
	signingKey    [16]byte
	encryptionKey [16]byte
}

func newFernetKey(raw []byte) (*fernetKey, error) {
	if len(raw) != 32 {
		return nil, errors.New("key material must be exactly 32 bytes")
	}
	k := &fernetKey{}
	copy(k.signingKey[:], raw[:16])
	copy(k.encryptionKey[:], raw[16:])
	return k, nil
}

func (k *fernetKey) encrypt(plaintext []byte, now int64) ([]byte, error) {
	block, err := aes.NewCipher(k.encryptionKey[:])
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	header := make([]byte, 1+8+aes.BlockSize)
	header[0] = tokenVersion
	binary.BigEndian.PutUint64(header[1:9], uint64(now))
	copy(header[9:], iv)

	body := append(header, ciphertext...)

	mac := hmac.New(sha256.New, k.signingKey[:])
	mac.Write(body)
	tag := mac.Sum(nil)

	return append(body, tag...), nil
}

func (k *fernetKey) decrypt(token []byte) ([]byte, error) {
	const minLen = 1 + 8 + aes.BlockSize + sha256.Size
	if len(token) < minLen {
		return nil, errShortToken
	}
	if token[0] != tokenVersion {
		return nil, errBadVersion
	}

	body := token[:len(token)-sha256.Size]
	wantTag := token[len(token)-sha256.Size:]

	mac := hmac.New(sha256.New, k.signingKey[:])
	mac.Write(body)
	gotTag := mac.Sum(nil)
	if subtle.ConstantTimeCompare(wantTag, gotTag) != 1 {
		return nil, errBadMAC
	}

	iv := body[9 : 9+aes.BlockSize]
	ciphertext := body[9+aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(k.encryptionKey[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
