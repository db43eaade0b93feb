package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/teleprompt/teleprompt/pkg/logger"
	"github.com/teleprompt/teleprompt/pkg/payload"
	"github.com/teleprompt/teleprompt/pkg/registry"
)

// State is the coordinator's position in its tick cycle.
type State int

const (
	// StateIdle: no receiving tabs; ticks check membership only.
	StateIdle State = iota
	// StateActive: tabs subscribed, no fetch in flight.
	StateActive
	// StateDraining: a fetch is outstanding; further ticks are no-ops.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Fetcher drains the relay's mailbox once.
type Fetcher interface {
	Fetch(ctx context.Context) (payload.FetchResponse, error)
}

// Broadcaster delivers a payload to one subscribed tab.
type Broadcaster interface {
	Deliver(ctx context.Context, tabID int, p payload.Payload) error
}

// Membership is the coordinator's read-only view of the tab registry.
type Membership interface {
	Count() int
	TabIDs() []int
	ListAll() map[int]registry.TabInfo
}

// Coordinator polls the relay at most once per tick regardless of how many
// tabs are subscribed, and fans each drained payload out to every tab in the
// registry. N subscribed tabs never cause N drains of the one-shot mailbox.
type Coordinator struct {
	fetcher     Fetcher
	membership  Membership
	broadcaster Broadcaster
	interval    time.Duration

	mu    sync.Mutex
	state State
}

func New(fetcher Fetcher, membership Membership, broadcaster Broadcaster, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Coordinator{
		fetcher:     fetcher,
		membership:  membership,
		broadcaster: broadcaster,
		interval:    interval,
		state:       StateIdle,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run ticks on a fixed wall-clock cadence until ctx is done. Each tick runs
// on its own goroutine so a slow fetch causes later ticks to be skipped by
// the reentrancy guard instead of queueing behind it.
func (c *Coordinator) Run(ctx context.Context) {
	logger.InfoCF("coordinator", "Poll loop started", map[string]interface{}{
		"interval": c.interval.String(),
	})

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("coordinator", "Poll loop stopped")
			return
		case <-ticker.C:
			go c.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle. A tick arriving while a previous tick's
// fetch or fan-out is still outstanding returns immediately; ticks are never
// queued or coalesced.
func (c *Coordinator) Tick(ctx context.Context) {
	if !c.beginTick() {
		return
	}
	defer c.endTick()

	result, err := c.fetcher.Fetch(ctx)
	if err != nil {
		// A failed fetch means "no payload this tick"; the next tick retries.
		logger.WarnCF("coordinator", "Fetch failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if !result.Found || result.Payload == nil {
		return
	}

	c.broadcast(ctx, *result.Payload)
}

// beginTick applies the registry-size transitions and, when tabs are
// subscribed, moves to Draining. It reports whether this tick should issue a
// fetch; false means either no tabs are subscribed or a fetch is already in
// flight.
func (c *Coordinator) beginTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDraining {
		return false
	}

	if c.membership.Count() == 0 {
		if c.state == StateActive {
			logger.DebugC("coordinator", "Stopping fetch, no receiving tabs")
		}
		c.state = StateIdle
		return false
	}

	if c.state == StateIdle {
		logger.DebugCF("coordinator", "Starting fetch loop", map[string]interface{}{
			"tabs": c.membership.TabIDs(),
		})
	}
	c.state = StateDraining
	return true
}

func (c *Coordinator) endTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDraining {
		c.state = StateActive
	}
}

// broadcast delivers p to every tab in the registry as observed now, at
// drain-completion time, not at fetch-issue time; membership changes during
// the round-trip are honored. Per-tab failures are logged individually and
// never abort delivery to the remaining tabs.
func (c *Coordinator) broadcast(ctx context.Context, p payload.Payload) {
	members := c.membership.ListAll()
	if len(members) == 0 {
		logger.WarnC("coordinator", "Payload drained but no receiving tabs remain")
		return
	}

	logger.DebugCF("coordinator", "Broadcasting payload", map[string]interface{}{
		"has_image": p.HasImage(),
		"has_text":  p.HasText(),
		"timestamp": p.Timestamp,
		"tabs":      len(members),
	})

	var wg sync.WaitGroup
	for tabID := range members {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := c.broadcaster.Deliver(ctx, id, p); err != nil {
				logger.WarnCF("coordinator", "Failed to deliver payload to tab", map[string]interface{}{
					"tab":   id,
					"error": err.Error(),
				})
			}
		}(tabID)
	}
	wg.Wait()
}
