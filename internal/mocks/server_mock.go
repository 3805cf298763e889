package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/offsync/offsync/internal/server/store"
)

// MockDeviceStore is a mock implementation of the guard's DeviceStore interface
type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) FindDeviceByHardwareID(ctx context.Context, hardwareID string) (*store.Device, error) {
	args := m.Called(ctx, hardwareID)
	device, _ := args.Get(0).(*store.Device)
	return device, args.Error(1)
}

func (m *MockDeviceStore) RecordNonce(ctx context.Context, deviceID uuid.UUID, signatureHash string) error {
	args := m.Called(ctx, deviceID, signatureHash)
	return args.Error(0)
}
