package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/utils"
	"github.com/offsync/offsync/pkg/identity"
	"github.com/offsync/offsync/pkg/mqtt"
)

// SampleSubscriber emits captured samples.
type SampleSubscriber interface {
	Subscribe(fn func(models.Sample)) func()
}

const liveFeedQueueSize = 32

// LiveFeedService mirrors captured samples to an MQTT topic for live dashboards. It is best
// effort: the durable queue and sync engine remain the delivery path, so samples that cannot
// be published are only logged.
type LiveFeedService struct {
	// Configuration fields
	topic   string
	qos     int
	timeout time.Duration

	// Dependencies
	deviceInfo identity.DeviceInfoInterface
	client     mqtt.MQTTClient
	source     SampleSubscriber
	logger     zerolog.Logger

	// Internal state management
	mu          sync.Mutex
	pool        *utils.WorkerPool
	unsubscribe func()
	running     bool
}

// NewLiveFeedService creates a new LiveFeedService instance with the provided configuration.
func NewLiveFeedService(topic string, qos int, timeout time.Duration, deviceInfo identity.DeviceInfoInterface,
	client mqtt.MQTTClient, source SampleSubscriber, logger zerolog.Logger) *LiveFeedService {
	return &LiveFeedService{
		topic:      topic,
		qos:        qos,
		timeout:    timeout,
		deviceInfo: deviceInfo,
		client:     client,
		source:     source,
		logger:     logger.With().Str("service", "live_feed").Logger(),
	}
}

// Start subscribes to captured samples.
func (l *LiveFeedService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Warn().Msg("LiveFeedService is already running")
		return errors.New("live feed service is already running")
	}

	l.pool = utils.NewWorkerPool(1, liveFeedQueueSize)
	l.unsubscribe = l.source.Subscribe(l.onSample)
	l.running = true

	l.logger.Info().
		Str("topic", l.deviceTopic()).
		Int("qos", l.qos).
		Msg("LiveFeedService started")
	return nil
}

// Stop unsubscribes and waits for in-flight publishes.
func (l *LiveFeedService) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		l.logger.Warn().Msg("LiveFeedService is not running")
		return errors.New("live feed service is not running")
	}

	l.unsubscribe()
	l.pool.Shutdown()
	l.running = false
	l.logger.Info().Msg("LiveFeedService stopped")
	return nil
}

func (l *LiveFeedService) deviceTopic() string {
	return fmt.Sprintf("%s/%s", l.topic, l.deviceInfo.GetDeviceID())
}

func (l *LiveFeedService) onSample(sample models.Sample) {
	if !l.pool.TrySubmit(func() {
		if err := l.publish(sample); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to publish live location")
		}
	}) {
		l.logger.Debug().Msg("Live feed backlog full, skipping sample")
	}
}

// publish serializes one sample and waits for the broker acknowledgement.
func (l *LiveFeedService) publish(sample models.Sample) error {
	message := models.LiveLocation{
		DeviceID:     l.deviceInfo.GetDeviceID(),
		Timestamp:    sample.CapturedAt,
		Latitude:     sample.Latitude,
		Longitude:    sample.Longitude,
		Accuracy:     sample.AccuracyM,
		Provider:     sample.Provider,
		AccuracyMode: sample.AccuracyMode,
		BatteryPct:   sample.BatteryPct,
		IsCharging:   sample.IsCharging,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("serialize live location: %w", err)
	}

	topic := l.deviceTopic()
	if err := mqtt.PublishAndWait(l.client, topic, byte(l.qos), payload, l.timeout); err != nil {
		return err
	}

	l.logger.Debug().
		Str("topic", topic).
		Time("captured_at", sample.CapturedAt).
		Msg("Live location published")
	return nil
}
