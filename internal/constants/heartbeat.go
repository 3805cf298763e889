package constants

import "time"

// StatusAlive is reported by every heartbeat.
const StatusAlive = "alive"

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultHeartbeatTopic    = "devices/heartbeat"
)
