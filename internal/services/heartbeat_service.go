package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/constants"
	metrics "github.com/offsync/offsync/internal/metrics_collectors"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/identity"
	"github.com/offsync/offsync/pkg/mqtt"
)

// SyncStatusSource reports the sync engine state.
type SyncStatusSource interface {
	Status(ctx context.Context) (SyncStatus, error)
}

// TrackingStatusSource reports the capture engine state.
type TrackingStatusSource interface {
	Status() capture.Status
}

// HeartbeatSources are the optional inputs of a heartbeat. Nil sources are left out of the message.
type HeartbeatSources struct {
	Sync     SyncStatusSource
	Tracking TrackingStatusSource
	Power    capture.PowerReader
	Metrics  *metrics.MetricsRegistry
}

// HeartbeatService manages periodic heartbeat messages.
type HeartbeatService struct {
	PubTopic   string
	Interval   time.Duration
	QOS        int
	Timeout    time.Duration
	DeviceInfo identity.DeviceInfoInterface
	MqttClient mqtt.MQTTClient
	Sources    HeartbeatSources
	Logger     zerolog.Logger

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, qos int, timeout time.Duration,
	deviceInfo identity.DeviceInfoInterface, mqttClient mqtt.MQTTClient, sources HeartbeatSources, logger zerolog.Logger) *HeartbeatService {
	if interval <= 0 {
		interval = constants.DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HeartbeatService{
		PubTopic:   pubTopic,
		Interval:   interval,
		QOS:        qos,
		Timeout:    timeout,
		DeviceInfo: deviceInfo,
		MqttClient: mqttClient,
		Sources:    sources,
		Logger:     logger.With().Str("service", "heartbeat").Logger(),
		now:        time.Now,
	}
}

// Start launches the heartbeat loop in a separate goroutine. The first heartbeat goes out
// immediately.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.PubTopic).Dur("interval", h.Interval).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// runHeartbeatLoop sends heartbeat messages at the configured interval.
func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	h.sendHeartbeat(h.ctx)
	for {
		select {
		case <-ticker.C:
			h.sendHeartbeat(h.ctx)
		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) sendHeartbeat(ctx context.Context) {
	payload, err := json.Marshal(h.buildHeartbeat(ctx))
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
		return
	}

	if err := mqtt.PublishAndWait(h.MqttClient, h.PubTopic, byte(h.QOS), payload, h.Timeout); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
		return
	}
	h.Logger.Debug().Msg("Heartbeat published successfully")
}

// buildHeartbeat assembles the message from whatever sources are configured. A failing source
// is logged and omitted.
func (h *HeartbeatService) buildHeartbeat(ctx context.Context) models.Heartbeat {
	hb := models.Heartbeat{
		DeviceID:  h.DeviceInfo.GetDeviceID(),
		Timestamp: h.now().UTC(),
		Status:    constants.StatusAlive,
	}

	if src := h.Sources.Sync; src != nil {
		st, err := src.Status(ctx)
		if err != nil {
			h.Logger.Warn().Err(err).Msg("Failed to read sync status")
		} else {
			hb.Sync = &models.SyncHealth{
				Pending:       st.Pending,
				Online:        st.Online,
				Paused:        st.Paused,
				Failures:      st.Failures,
				LastError:     st.LastError,
				LastSuccessAt: optionalTime(st.LastSuccessAt),
			}
		}
	}

	if src := h.Sources.Tracking; src != nil {
		st := src.Status()
		hb.Tracking = &models.TrackingHealth{
			Tracking:       st.Tracking,
			Mode:           string(st.Mode),
			Accuracy:       st.Accuracy,
			FallbackActive: st.FallbackActive,
			LastFixAt:      optionalTime(st.LastFixAt),
		}
	}

	if src := h.Sources.Power; src != nil {
		if power, err := src.Read(); err == nil {
			hb.BatteryPct = power.BatteryPct
			hb.IsCharging = power.IsCharging
		}
	}

	if h.Sources.Metrics != nil {
		hb.Host = h.Sources.Metrics.Snapshot(ctx)
	}

	return hb
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
