package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/offsync/offsync/pkg/file"
)

// Identity holds the device's stable hardware identifier and display metadata.
type Identity struct {
	ID    string `json:"hardware_id,omitempty"`
	Name  string `json:"device_name,omitempty"`
	Model string `json:"model,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	SaveDeviceID(deviceID string) error
	GetDeviceID() string
	GetDeviceIdentity() *Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance. name and model seed the identity
// when no identity file exists yet.
func NewDeviceInfo(filePath, name, model string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{Name: name, Model: model},
	}
}

// LoadDeviceInfo reads the device identity from disk. On first start a hardware id is
// generated and persisted so it stays stable across restarts.
func (d *DeviceInfo) LoadDeviceInfo() error {
	exists, err := d.fileOps.IsFileExists(d.DeviceInfoFile)
	if err != nil {
		return fmt.Errorf("failed to stat identity file: %w", err)
	}

	if exists {
		var stored Identity
		if err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &stored); err != nil {
			return fmt.Errorf("failed to read identity file: %w", err)
		}
		if stored.Name == "" {
			stored.Name = d.Identity.Name
		}
		if stored.Model == "" {
			stored.Model = d.Identity.Model
		}
		d.Identity = stored
	}

	if d.Identity.ID == "" {
		return d.SaveDeviceID(uuid.NewString())
	}

	return nil
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the current hardware id.
func (d *DeviceInfo) GetDeviceID() string {
	return d.Identity.ID
}

// SaveDeviceID updates the hardware id and writes the identity back to the file.
func (d *DeviceInfo) SaveDeviceID(deviceID string) error {
	d.Identity.ID = deviceID
	return d.fileOps.WriteJsonFile(d.DeviceInfoFile, d.Identity)
}
