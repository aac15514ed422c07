package directory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key-wrapping parameters. The folder key itself is 32 random bytes; the
// passphrase-derived KEK wraps it with AES-256-GCM.
const (
	saltBytes      = 16
	ivBytes        = 12
	folderKeyBytes = 32
	kdfIterations  = 120000
	kdfKeyBytes    = 32

	// MinPassphraseLen is enforced on every passphrase-taking operation.
	MinPassphraseLen = 8
)

// Record is one encrypted-folder (or hidden-folder) manifest entry. All
// binary fields are base64 in the stored JSON.
type Record struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Salt       string `json:"salt"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// complete reports whether every cryptographic field is present. Entries
// failing this are dropped on manifest load.
func (r Record) complete() bool {
	return r.Ciphertext != "" && r.IV != "" && r.AuthTag != "" && r.Salt != ""
}

// NewFolderKey generates a fresh random folder key, hex-encoded.
func NewFolderKey() (string, error) {
	raw := make([]byte, folderKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("folder key generation: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// NewSessionToken generates a 256-bit random hex token.
func NewSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session token generation: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func deriveKEK(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeyBytes, sha512.New)
}

// WrapFolderKey encrypts the folder key under the passphrase-derived KEK
// and returns a manifest record. GCM's tag is stored separately to match
// the manifest wire shape.
func WrapFolderKey(passphrase, folderKey string) (Record, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return Record{}, fmt.Errorf("salt generation: %w", err)
	}
	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return Record{}, fmt.Errorf("iv generation: %w", err)
	}

	block, err := aes.NewCipher(deriveKEK(passphrase, salt))
	if err != nil {
		return Record{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Record{}, err
	}

	sealed := gcm.Seal(nil, iv, []byte(folderKey), nil)
	tagStart := len(sealed) - gcm.Overhead()

	now := time.Now().Unix()
	return Record{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// UnwrapFolderKey decrypts the folder key from a manifest record. A wrong
// passphrase fails the GCM tag check and returns an error; callers must
// surface it identically to a missing folder.
func UnwrapFolderKey(passphrase string, rec Record) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext decode: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(rec.AuthTag)
	if err != nil {
		return "", fmt.Errorf("auth tag decode: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(rec.IV)
	if err != nil {
		return "", fmt.Errorf("iv decode: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return "", fmt.Errorf("salt decode: %w", err)
	}

	block, err := aes.NewCipher(deriveKEK(passphrase, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plain, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("folder key unwrap: %w", err)
	}
	return string(plain), nil
}
