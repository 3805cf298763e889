package constants

import "time"

// Provider labels attached to every captured sample.
const (
	// ProviderGPS tags fixes produced by the high-accuracy (satellite) source.
	ProviderGPS = "gps"
	// ProviderNetwork tags fixes produced by the balanced-power (network) source.
	ProviderNetwork = "network"
	// ProviderFused tags fixes produced by a platform fused provider.
	ProviderFused = "fused"
	// ProviderNetworkFallback tags fixes produced after GPS fallback kicked in.
	ProviderNetworkFallback = "network_fallback"
)

const (
	// DefaultFallbackTimeout is how long foreground high-accuracy tracking waits for a first fix.
	DefaultFallbackTimeout = 20 * time.Second

	// DefaultCachedMaxAge bounds how old a cached position may be for a one-shot query.
	DefaultCachedMaxAge = 2 * time.Minute

	// DefaultFreshFixTimeout bounds a fresh high-accuracy request for a one-shot query.
	DefaultFreshFixTimeout = 15 * time.Second
)
