package credential

import (
	"context"
)

// KMSEncryptionAdapter exposes KMSEncryptionService as an
// EncryptionServiceInterface, so Injector doesn't need to know whether
// credentials are backed by KMS or a local master key. The service's Decrypt
// already takes the combined nonce+ciphertext+tag buffer and the encrypted
// DEK, so both methods delegate without converting anything.
type KMSEncryptionAdapter struct {
	service *KMSEncryptionService
}

// NewKMSEncryptionAdapter creates a new adapter for KMSEncryptionService
func NewKMSEncryptionAdapter(service *KMSEncryptionService) *KMSEncryptionAdapter {
	return &KMSEncryptionAdapter{service: service}
}

// Encrypt implements EncryptionServiceInterface
// Delegates to KMSEncryptionService and returns the encrypted secret
func (a *KMSEncryptionAdapter) Encrypt(ctx context.Context, tenantID string, data *CredentialData) (*EncryptedSecret, error) {
	return a.service.Encrypt(ctx, tenantID, data)
}

// Decrypt implements EncryptionServiceInterface
// encryptedData format: nonce (12 bytes) + ciphertext + authTag (16 bytes)
// encryptedKey format: encrypted DEK from KMS
func (a *KMSEncryptionAdapter) Decrypt(ctx context.Context, encryptedData, encryptedKey []byte) (*CredentialData, error) {
	return a.service.Decrypt(ctx, encryptedData, encryptedKey)
}
