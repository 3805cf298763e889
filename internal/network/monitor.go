package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/offsync/offsync/internal/utils"
)

// InterfaceLister returns the host's network interfaces.
type InterfaceLister func() (psnet.InterfaceStatList, error)

// Monitor polls interface state and reports online/offline transitions.
type Monitor struct {
	interval time.Duration
	list     InterfaceLister
	ignored  map[string]struct{}
	logger   zerolog.Logger

	online      atomic.Bool
	transitions *utils.Observable[bool]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewMonitor creates a Monitor. A nil lister uses gopsutil. Interfaces named in ignore never
// count as connectivity (loopback is always ignored).
func NewMonitor(interval time.Duration, list InterfaceLister, ignore []string, logger zerolog.Logger) *Monitor {
	if list == nil {
		list = psnet.Interfaces
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		interval:    interval,
		list:        list,
		ignored:     utils.SliceToSet(ignore),
		logger:      logger.With().Str("component", "network").Logger(),
		transitions: utils.NewObservable[bool](),
	}
}

// Subscribe registers fn for online/offline transitions.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	return m.transitions.Subscribe(fn)
}

// IsOnline reports the last observed state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Start takes an initial reading and begins polling.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("network monitor is already running")
	}

	m.online.Store(m.probe())
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check()
			case <-m.ctx.Done():
				return
			}
		}
	}()

	m.logger.Info().Bool("online", m.IsOnline()).Dur("interval", m.interval).Msg("Network monitor started")
	return nil
}

// Stop ends polling.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return errors.New("network monitor is not running")
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
	m.logger.Info().Msg("Network monitor stopped")
	return nil
}

// Check takes a reading now and publishes a transition if the state changed.
func (m *Monitor) Check() bool {
	online := m.probe()
	if m.online.Swap(online) != online {
		m.logger.Info().Bool("online", online).Msg("Connectivity changed")
		m.transitions.Publish(online)
	}
	return online
}

func (m *Monitor) probe() bool {
	ifaces, err := m.list()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list network interfaces")
		return false
	}

	for _, iface := range ifaces {
		if _, skip := m.ignored[iface.Name]; skip {
			continue
		}
		var up, loopback bool
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback && len(iface.Addrs) > 0 {
			return true
		}
	}
	return false
}
