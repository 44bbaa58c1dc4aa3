package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
)

const (
	// NonceSize is the size of GCM nonce in bytes (96 bits)
	NonceSize = 12
)

// ClearKey securely zeros out a key in memory
func ClearKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// SimpleEncryptionService provides testing/development encryption without KMS
// Uses a fixed master key to encrypt DEKs instead of AWS KMS
type SimpleEncryptionService struct {
	masterKey []byte
}

// NewSimpleEncryptionService creates a new simple encryption service for testing
// masterKey must be exactly 32 bytes (256 bits)
func NewSimpleEncryptionService(masterKey []byte) (*SimpleEncryptionService, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be exactly 32 bytes, got %d", len(masterKey))
	}

	// Make a copy to prevent external modification
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)

	return &SimpleEncryptionService{
		masterKey: keyCopy,
	}, nil
}

// Encrypt encrypts credential data using envelope encryption with a fixed master key
func (s *SimpleEncryptionService) Encrypt(ctx context.Context, tenantID string, data *CredentialData) (*EncryptedSecret, error) {
	if data == nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: ErrEmptyCredentialData,
		}
	}

	// Serialize credential data to JSON
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to marshal credential data: %w", err),
		}
	}

	// Generate random DEK (32 bytes for AES-256)
	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to generate DEK: %w", err),
		}
	}
	defer ClearKey(dek)

	// Encrypt DEK with master key
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to create cipher for DEK encryption: %w", err),
		}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to create GCM for DEK encryption: %w", err),
		}
	}

	dekNonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, dekNonce); err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to generate DEK nonce: %w", err),
		}
	}

	// Encrypt DEK (includes auth tag)
	// #nosec G407 -- dekNonce is randomly generated via crypto/rand.Reader above (line 93), not hardcoded
	encryptedDEK := gcm.Seal(nil, dekNonce, dek, nil)

	// Prepend nonce to encrypted DEK
	encryptedDEKWithNonce := make([]byte, len(dekNonce)+len(encryptedDEK))
	copy(encryptedDEKWithNonce, dekNonce)
	copy(encryptedDEKWithNonce[len(dekNonce):], encryptedDEK)

	// Encrypt credential data with DEK
	dataBlock, err := aes.NewCipher(dek)
	if err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to create cipher for data encryption: %w", err),
		}
	}

	dataGCM, err := cipher.NewGCM(dataBlock)
	if err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to create GCM for data encryption: %w", err),
		}
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("failed to generate nonce: %w", err),
		}
	}

	// Encrypt and get ciphertext with auth tag
	// #nosec G407 -- nonce is randomly generated via crypto/rand.Reader above (line 127), not hardcoded
	ciphertextWithTag := dataGCM.Seal(nil, nonce, plaintext, nil)

	// Split ciphertext and auth tag
	// GCM auth tag is always the last 16 bytes
	authTagSize := dataGCM.Overhead()
	if len(ciphertextWithTag) < authTagSize {
		return nil, &EncryptionError{
			Op:  "Encrypt",
			Err: fmt.Errorf("ciphertext too short"),
		}
	}

	ciphertext := ciphertextWithTag[:len(ciphertextWithTag)-authTagSize]
	authTag := ciphertextWithTag[len(ciphertextWithTag)-authTagSize:]

	return &EncryptedSecret{
		EncryptedDEK: encryptedDEKWithNonce,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		AuthTag:      authTag,
		KMSKeyID:     "simple-encryption", // Identifier for non-KMS encryption
	}, nil
}

// Decrypt decrypts credential data using envelope encryption with a fixed master key
func (s *SimpleEncryptionService) Decrypt(ctx context.Context, encrypted *EncryptedSecret) (*CredentialData, error) {
	if encrypted == nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: ErrInvalidCiphertext,
		}
	}

	// Validate encrypted data
	if len(encrypted.EncryptedDEK) < NonceSize+1 {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("encrypted DEK too short"),
		}
	}

	if len(encrypted.Nonce) != NonceSize {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: ErrInvalidNonce,
		}
	}

	// Extract nonce and encrypted DEK
	dekNonce := encrypted.EncryptedDEK[:NonceSize]
	encryptedDEK := encrypted.EncryptedDEK[NonceSize:]

	// Decrypt DEK with master key
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to create cipher for DEK decryption: %w", err),
		}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to create GCM for DEK decryption: %w", err),
		}
	}

	dek, err := gcm.Open(nil, dekNonce, encryptedDEK, nil)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to decrypt DEK: %w", err),
		}
	}
	defer ClearKey(dek)

	// Validate DEK size
	if len(dek) != 32 {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("invalid DEK size: got %d, want 32", len(dek)),
		}
	}

	// Decrypt credential data with DEK
	dataBlock, err := aes.NewCipher(dek)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to create cipher for data decryption: %w", err),
		}
	}

	dataGCM, err := cipher.NewGCM(dataBlock)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to create GCM for data decryption: %w", err),
		}
	}

	// Combine ciphertext and auth tag for GCM
	ciphertextWithTag := make([]byte, len(encrypted.Ciphertext)+len(encrypted.AuthTag))
	copy(ciphertextWithTag, encrypted.Ciphertext)
	copy(ciphertextWithTag[len(encrypted.Ciphertext):], encrypted.AuthTag)

	// Decrypt and verify
	plaintext, err := dataGCM.Open(nil, encrypted.Nonce, ciphertextWithTag, nil)
	if err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to decrypt data: %w", err),
		}
	}

	// Deserialize credential data
	var data CredentialData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, &DecryptionError{
			Op:  "Decrypt",
			Err: fmt.Errorf("failed to unmarshal credential data: %w", err),
		}
	}

	return &data, nil
}
