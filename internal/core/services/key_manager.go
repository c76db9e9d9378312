package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/domain"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/devault/backend/pkg/utils/crypto"
	"github.com/devault/backend/pkg/utils/sshkeygen"
	"golang.org/x/crypto/ssh"
)

// KeyManager owns the Ed25519 key pair the service presents to devices that
// have no password or key configured. The private half is stored encrypted
// when an encryption key is set.
type KeyManager struct {
	repo          ports.SystemSettingRepository
	encryptionKey string
	logger        *logger.Logger

	mu         sync.RWMutex
	privateKey string
	publicKey  string
}

func NewKeyManager(repo ports.SystemSettingRepository, encryptionKey string, logger *logger.Logger) *KeyManager {
	return &KeyManager{
		repo:          repo,
		encryptionKey: encryptionKey,
		logger:        logger,
	}
}

func (km *KeyManager) Initialize(ctx context.Context) error {
	priv, err := km.repo.Get(ctx, domain.SettingDeviceKeyPrivate)
	if err != nil {
		return fmt.Errorf("failed to get device key: %w", err)
	}
	pub, err := km.repo.Get(ctx, domain.SettingDeviceKeyPublic)
	if err != nil {
		return fmt.Errorf("failed to get device key: %w", err)
	}

	if priv != nil && pub != nil && priv.Value != "" && pub.Value != "" {
		plain, err := km.open(priv.Value)
		if err != nil {
			return err
		}
		km.set(plain, pub.Value)
		km.logger.Infow("device_keys_loaded")
		return nil
	}

	km.logger.Infow("device_keys_generating")
	if err := km.generateAndSaveKeys(ctx); err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}
	km.logger.Infow("device_keys_generated")
	return nil
}

func (km *KeyManager) generateAndSaveKeys(ctx context.Context) error {
	privKey, pubKey, err := GenerateKeyPair()
	if err != nil {
		return err
	}

	sealed, err := km.seal(privKey)
	if err != nil {
		return err
	}
	if err := km.repo.Set(ctx, &domain.SystemSetting{
		Key:      domain.SettingDeviceKeyPrivate,
		Value:    sealed,
		Type:     "string",
		Category: domain.SettingCategorySecurity,
	}); err != nil {
		return err
	}
	if err := km.repo.Set(ctx, &domain.SystemSetting{
		Key:      domain.SettingDeviceKeyPublic,
		Value:    pubKey,
		Type:     "string",
		Category: domain.SettingCategorySecurity,
	}); err != nil {
		return err
	}

	km.set(privKey, pubKey)
	return nil
}

// GenerateKeyPair returns a PEM private key and an authorized_keys line.
func GenerateKeyPair() (privateKey, publicKey string, err error) {
	priv, pub, err := sshkeygen.NewEd25519()
	if err != nil {
		return "", "", err
	}
	return string(priv), string(pub), nil
}

func (km *KeyManager) seal(plain string) (string, error) {
	if km.encryptionKey == "" {
		return plain, nil
	}
	sealed, err := crypto.Encrypt(plain, km.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return sealed, nil
}

func (km *KeyManager) open(stored string) (string, error) {
	if km.encryptionKey == "" {
		return stored, nil
	}
	plain, err := crypto.Decrypt(stored, km.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain, nil
}

func (km *KeyManager) set(priv, pub string) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.privateKey = priv
	km.publicKey = pub
}

func (km *KeyManager) GetPublicKey() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.publicKey
}

// Signer parses the private key for use as ssh auth.
func (km *KeyManager) Signer() (ssh.Signer, error) {
	km.mu.RLock()
	priv := km.privateKey
	km.mu.RUnlock()
	if priv == "" {
		return nil, ErrKeysNotInitialized
	}
	return ssh.ParsePrivateKey([]byte(priv))
}
