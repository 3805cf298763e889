package service_registry

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/capture"
	metrics "github.com/offsync/offsync/internal/metrics_collectors"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/network"
	"github.com/offsync/offsync/internal/registry"
	"github.com/offsync/offsync/internal/services"
	"github.com/offsync/offsync/internal/utils"
	"github.com/offsync/offsync/pkg/identity"
	"github.com/offsync/offsync/pkg/mqtt"
)

// Queue is the durable queue surface shared by the capture and sync services.
type Queue interface {
	services.SampleQueue
	services.SampleStore
}

// Dependencies are the long-lived components the agent services are built from.
type Dependencies struct {
	DeviceInfo identity.DeviceInfoInterface
	Tracker    services.Tracker
	Queue      Queue
	Uploader   services.Uploader
	Reauth     services.Reauthenticator
	Network    *network.Monitor
	Power      capture.PowerReader // battery reported by the heartbeat; may be nil
	MQTTClient mqtt.MQTTClient     // nil when no broker is configured
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	Logger      zerolog.Logger

	// Sync is set by RegisterServices so signal handlers can request manual retries.
	Sync *services.SyncService
}

// NewServiceRegistry initializes a new service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices builds and registers the agent services in start order: connectivity first,
// then the sync engine that follows it, then capture, which feeds the sync engine, and finally
// the optional MQTT live feed and heartbeat.
func (sr *ServiceRegistry) RegisterServices(config *utils.AgentConfig, deps Dependencies) error {
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "network",
			enabled: deps.Network != nil,
			constructor: func() (registry.Service, error) {
				return deps.Network, nil
			},
		},
		{
			name:    "sync",
			enabled: true,
			constructor: func() (registry.Service, error) {
				syncService := services.NewSyncService(services.SyncConfig{
					Interval:         config.Sync.Interval,
					BatchSize:        config.Sync.BatchSize,
					MaxFailures:      config.Sync.MaxFailures,
					CaptureThreshold: config.Sync.CaptureThreshold,
				}, deps.Queue, deps.Uploader, deps.Reauth, sr.Logger)
				if deps.Network != nil {
					syncService.WithConnectivity(deps.Network)
				}
				sr.Sync = syncService
				return syncService, nil
			},
		},
		{
			name:    "capture",
			enabled: deps.Tracker != nil,
			constructor: func() (registry.Service, error) {
				return services.NewCaptureService(services.CaptureConfig{
					AutoStart: config.Tracking.AutoStart,
					Mode:      capture.ParseMode(config.Tracking.Mode),
					Accuracy:  models.ParseAccuracyMode(config.Tracking.Accuracy),
				}, deps.Tracker, deps.Queue, sr.Sync, sr.Logger), nil
			},
		},
		{
			name:    "live_feed",
			enabled: config.Services.LiveFeed.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.MQTTClient == nil {
					return nil, errors.New("live feed requires an MQTT broker")
				}
				if deps.Tracker == nil {
					return nil, errors.New("live feed requires a tracker")
				}
				return services.NewLiveFeedService(
					config.Services.LiveFeed.Topic,
					config.Services.LiveFeed.QOS,
					config.Services.LiveFeed.Timeout,
					deps.DeviceInfo,
					deps.MQTTClient,
					deps.Tracker,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Services.Heartbeat.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.MQTTClient == nil {
					return nil, errors.New("heartbeat requires an MQTT broker")
				}
				sources := services.HeartbeatSources{Sync: sr.Sync, Power: deps.Power}
				if tracking, ok := deps.Tracker.(services.TrackingStatusSource); ok {
					sources.Tracking = tracking
				}
				if config.Services.Heartbeat.HostMetrics {
					sources.Metrics = metrics.NewDefaultRegistry(filepath.Dir(config.Queue.Path), sr.Logger)
				}
				return services.NewHeartbeatService(
					config.Services.Heartbeat.Topic,
					config.Services.Heartbeat.Interval,
					config.Services.Heartbeat.QOS,
					config.Services.Heartbeat.Timeout,
					deps.DeviceInfo,
					deps.MQTTClient,
					sources,
					sr.Logger,
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
