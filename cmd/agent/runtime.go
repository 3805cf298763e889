package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/queue"
	"github.com/offsync/offsync/internal/transport"
	"github.com/offsync/offsync/internal/utils"
	"github.com/offsync/offsync/pkg/credentials"
	"github.com/offsync/offsync/pkg/encryption"
	"github.com/offsync/offsync/pkg/file"
	"github.com/offsync/offsync/pkg/identity"
	"github.com/offsync/offsync/pkg/location"
	"github.com/offsync/offsync/pkg/mqtt"
)

// agentRuntime holds the components every agent command is built from.
type agentRuntime struct {
	config     *utils.AgentConfig
	logger     zerolog.Logger
	fileClient file.FileOperations
	deviceInfo identity.DeviceInfoInterface
	creds      *credentials.CredentialStore
	queue      *queue.Queue
	client     *transport.Client
	enroller   *transport.Enroller
}

func loadRuntime(opts *rootOptions) (*agentRuntime, error) {
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(opts.ConfigFile, fileClient)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		config.Log.Level = opts.LogLevel
	}
	logger := utils.NewLogger(config.Log, os.Stdout)

	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, config.Identity.Name, config.Identity.Model, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}
	logger = logger.With().Str("hardware_id", deviceInfo.GetDeviceID()).Logger()

	encryptionManager := encryption.NewEncryptionManager(fileClient)
	if err := encryptionManager.Initialize(config.Security.AESKeyFile); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	creds := credentials.NewCredentialStore(config.Security.CredentialsFile, fileClient, encryptionManager)
	if err := creds.Load(); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	q, err := queue.Open(config.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	client := transport.NewClient(transport.Options{
		BaseURL:        config.Server.BaseURL,
		RequestTimeout: config.Server.RequestTimeout,
		MaxRetries:     config.Server.MaxRetries,
		RetryBaseDelay: config.Server.RetryBaseDelay,
	}, deviceInfo, creds, logger)

	return &agentRuntime{
		config:     config,
		logger:     logger,
		fileClient: fileClient,
		deviceInfo: deviceInfo,
		creds:      creds,
		queue:      q,
		client:     client,
		enroller:   transport.NewEnroller(client, deviceInfo, creds, config.Server.EnrollmentKey, logger),
	}, nil
}

// close releases the queue database.
func (rt *agentRuntime) close() {
	if err := rt.queue.Close(); err != nil {
		rt.logger.Error().Err(err).Msg("Failed to close queue")
	}
}

// newEngine builds the capture engine from the configured location sources. The NMEA serial
// receiver serves high accuracy and Google geolocation serves balanced power.
func (rt *agentRuntime) newEngine() (*capture.Engine, error) {
	cfg := rt.config

	var high, balanced location.Source
	if cfg.Location.GPSDevicePort != "" {
		high = location.NewDeviceSensorProvider(cfg.Location.GPSDevicePort, cfg.Location.GPSDeviceBaudRate)
	}
	if cfg.Location.MapsAPIKey != "" {
		provider, err := location.NewGoogleGeolocationProvider(cfg.Location.MapsAPIKey, cfg.Location.ModemIndex, cfg.Location.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create geolocation provider: %w", err)
		}
		balanced = provider
	}
	if high == nil && balanced == nil {
		return nil, errors.New("no location source configured: set location.gps_device_port or location.maps_api_key")
	}

	return capture.NewEngine(high, balanced,
		capture.NewBatteryPowerReader(),
		capture.RealClock(),
		capture.Config{
			FallbackTimeout: cfg.Tracking.FallbackTimeout,
			CachedMaxAge:    cfg.Tracking.CachedMaxAge,
			FreshFixTimeout: cfg.Tracking.FreshFixTimeout,
		},
		rt.logger,
	), nil
}

// newMQTT connects to the configured broker. It returns nil when no broker is configured.
func (rt *agentRuntime) newMQTT() (*mqtt.MqttService, error) {
	cfg := rt.config.MQTT
	if cfg.Broker == "" {
		return nil, nil
	}

	// Generate a unique MQTT client ID by appending a UUID
	clientID := cfg.ClientID + "-" + uuid.NewString()
	rt.logger.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

	svc := mqtt.NewMqttService(rt.fileClient)
	if err := svc.Initialize(mqtt.Options{
		Broker:        cfg.Broker,
		ClientID:      clientID,
		Username:      cfg.Username,
		Password:      cfg.Password,
		CACertificate: cfg.CACertificate,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT connection: %w", err)
	}
	return svc, nil
}
