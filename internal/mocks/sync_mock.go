package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/offsync/offsync/internal/models"
)

// MockUploader is a mock implementation of the sync Uploader interface
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) PostLocations(ctx context.Context, points []models.IngestPoint) (models.IngestResponse, error) {
	args := m.Called(ctx, points)
	return args.Get(0).(models.IngestResponse), args.Error(1)
}

// MockReauthenticator is a mock implementation of the sync Reauthenticator interface
type MockReauthenticator struct {
	mock.Mock
}

func (m *MockReauthenticator) Reauthenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockCredentialStore is a mock implementation of the credentials store
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Token() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockCredentialStore) Save(hardwareID, token string) error {
	args := m.Called(hardwareID, token)
	return args.Error(0)
}
