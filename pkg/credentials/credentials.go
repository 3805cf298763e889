package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/offsync/offsync/pkg/encryption"
	"github.com/offsync/offsync/pkg/file"
)

// ErrNoCredentials is returned when the device has not been enrolled yet.
var ErrNoCredentials = errors.New("device credentials not found")

// CredentialStoreInterface defines methods to manage the device's shared secret.
type CredentialStoreInterface interface {
	Load() error
	Save(hardwareID, token string) error
	Token() (string, error)
	HardwareID() string
	Clear() error
}

// credentialData is the plaintext persisted (encrypted) on disk.
type credentialData struct {
	HardwareID string `json:"hardware_id"`
	Token      string `json:"device_token"`
}

// CredentialStore keeps the device token encrypted at rest with AES-GCM.
type CredentialStore struct {
	TokenFilePath     string
	FileOps           file.FileOperations
	EncryptionManager encryption.EncryptionManagerInterface

	mu   sync.RWMutex
	data credentialData
}

// NewCredentialStore initializes a new CredentialStore instance.
func NewCredentialStore(tokenFilePath string, fileOps file.FileOperations, encryptionManager encryption.EncryptionManagerInterface) *CredentialStore {
	return &CredentialStore{
		TokenFilePath:     tokenFilePath,
		FileOps:           fileOps,
		EncryptionManager: encryptionManager,
	}
}

// Load reads the credentials file. A missing or empty file leaves the store empty.
func (cs *CredentialStore) Load() error {
	exists, err := cs.FileOps.IsFileExists(cs.TokenFilePath)
	if err != nil {
		return fmt.Errorf("failed to stat credentials file: %w", err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !exists {
		cs.data = credentialData{}
		return nil
	}

	raw, err := cs.FileOps.ReadFileRaw(cs.TokenFilePath)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(raw) == 0 {
		cs.data = credentialData{}
		return nil
	}

	plaintext, err := cs.EncryptionManager.Decrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var data credentialData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}

	cs.data = data
	return nil
}

// Save overwrites the stored credentials. Rotation replaces the previous secret.
func (cs *CredentialStore) Save(hardwareID, token string) error {
	if token == "" {
		return errors.New("refusing to store empty device token")
	}

	data := credentialData{HardwareID: hardwareID, Token: token}
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	ciphertext, err := cs.EncryptionManager.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.FileOps.WriteFileRaw(cs.TokenFilePath, ciphertext); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	cs.data = data
	return nil
}

// Token returns the current device token or ErrNoCredentials.
func (cs *CredentialStore) Token() (string, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.data.Token == "" {
		return "", ErrNoCredentials
	}
	return cs.data.Token, nil
}

// HardwareID returns the hardware id the token was issued for.
func (cs *CredentialStore) HardwareID() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.data.HardwareID
}

// Clear forgets the in-memory credentials and truncates the file.
func (cs *CredentialStore) Clear() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.data = credentialData{}
	return cs.FileOps.WriteFileRaw(cs.TokenFilePath, nil)
}
