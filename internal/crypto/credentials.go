// Package crypto provides sealed at-rest storage for exchange API
// credentials and HMAC request signing for the REST clients.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-credentials JSON schema version.
	currentVersion = 1
)

// Credentials are one venue's API key pair.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// sealedJSON is the on-disk format for sealed credentials.
type sealedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// CredentialSource carries the information LoadCredentials needs to resolve
// a venue's API credentials. Populate the fields from environment variables
// or a config file.
type CredentialSource struct {
	// APIKey and APISecret, when both set, are returned directly.
	APIKey    string
	APISecret string

	// SealedPath is the path to a JSON file produced by SealCredentials.
	SealedPath string

	// Password decrypts the file at SealedPath.
	Password string
}

// SealCredentials encrypts an API key pair with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. It returns the JSON blob suitable for writing to disk.
func SealCredentials(creds Credentials, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, errors.New("crypto: both api key and secret are required")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: encoding credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := sealedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// OpenCredentials decrypts a JSON blob produced by SealCredentials.
func OpenCredentials(sealed []byte, password string) (Credentials, error) {
	if password == "" {
		return Credentials{}, errors.New("crypto: password must not be empty")
	}

	var stored sealedJSON
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return Credentials{}, fmt.Errorf("crypto: parsing sealed credentials JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return Credentials{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding credentials: %w", err)
	}
	return creds, nil
}

// LoadCredentials resolves a venue's API credentials.
//
// Resolution order:
//  1. If APIKey and APISecret are both set, return them directly.
//  2. If SealedPath is set, read the file and decrypt with Password.
//  3. Otherwise, return an error.
func LoadCredentials(src CredentialSource) (Credentials, error) {
	if src.APIKey != "" && src.APISecret != "" {
		return Credentials{APIKey: src.APIKey, APISecret: src.APISecret}, nil
	}

	if src.SealedPath != "" {
		data, err := os.ReadFile(src.SealedPath)
		if err != nil {
			return Credentials{}, fmt.Errorf("crypto: reading sealed credentials file: %w", err)
		}
		return OpenCredentials(data, src.Password)
	}

	return Credentials{}, errors.New("crypto: no credential source configured (set key+secret or a sealed file path)")
}
