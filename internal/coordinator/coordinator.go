package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gofebos/febos-bridge/internal/febos"
	"github.com/gofebos/febos-bridge/internal/model"
)

const (
	// DefaultInterval matches the webapp's own refresh cadence.
	DefaultInterval = time.Minute
	// MinInterval is the floor dictated by remote rate limits.
	MinInterval = 15 * time.Second
	// DefaultFailureThreshold is how many consecutive failed polls mark the
	// account's devices unavailable.
	DefaultFailureThreshold = 3

	pollTimeout = 30 * time.Second
)

// Reason distinguishes scheduled ticks from user-triggered refreshes.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
)

// ErrNeedsReauth is returned once an account's session is unrecoverable.
// Polling stays stopped until the credentials are replaced.
var ErrNeedsReauth = errors.New("account needs reauthentication")

// Client is the remote surface the coordinator polls. *febos.Client
// satisfies it; tests substitute fakes.
type Client interface {
	Installations(ctx context.Context) ([]int, error)
	PageConfig(ctx context.Context, installationID int) (febos.PageConfig, error)
	Realtime(ctx context.Context, installationID int, groups []string) ([]febos.RealtimeEntry, error)
	Slaves(ctx context.Context, installationID, deviceID int) ([]febos.Slave, error)
}

// Update is the notification fanned out to subscribers after a poll.
type Update struct {
	Account             string
	Reason              Reason
	Snapshots           []model.Snapshot
	Removed             []model.DeviceID
	AvailabilityChanged []model.DeviceID
	NeedsReauth         bool
}

// Status is the externally visible poll state of an account.
type Status struct {
	Account             string    `json:"account"`
	State               string    `json:"state"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NeedsReauth         bool      `json:"needs_reauth"`
	Devices             int       `json:"devices"`
}

// Config tunes one account's coordinator.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Interval < MinInterval {
		c.Interval = MinInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

// Coordinator owns the poll schedule and the device model of one account.
// It is the sole writer of the account's store entries. Concurrent refresh
// requests coalesce onto the in-flight poll, so at most one remote round
// trip is outstanding per account.
type Coordinator struct {
	account string
	client  Client
	store   *model.Store
	cfg     Config
	log     *slog.Logger

	sf singleflight.Group

	mu          sync.Mutex
	topo        *topology
	polling     bool
	closed      bool
	needsReauth bool
	failures    int
	lastSuccess time.Time
	lastError   error
	subscribers map[int]func(Update)
	nextSubID   int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(account string, client Client, store *model.Store, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		account:     account,
		client:      client,
		store:       store,
		cfg:         cfg.withDefaults(),
		log:         log.With("account", account),
		subscribers: make(map[int]func(Update)),
		done:        make(chan struct{}),
	}
}

// Start launches the poll loop. The first poll runs immediately.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		if err := c.Refresh(ctx, ReasonScheduled); err != nil {
			c.log.Warn("initial poll failed", "error", err)
		}
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx, ReasonScheduled); err != nil && !errors.Is(err, ErrNeedsReauth) {
					c.log.Warn("scheduled poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the schedule and detaches the coordinator from the store. An
// in-flight poll is allowed to finish but its result is discarded. Setting
// closed and dropping the account happen under the same mutex section that
// commit writes the store under, so a poll finishing concurrently with Stop
// can never repopulate a torn-down account.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closed = true
	c.store.DropAccount(c.account)
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
}

// Refresh polls the account now. Calls arriving while a poll is in flight
// wait for and share that poll's outcome instead of issuing a second round
// trip.
func (c *Coordinator) Refresh(ctx context.Context, reason Reason) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("account %s is being torn down", c.account)
	}
	if c.needsReauth {
		c.mu.Unlock()
		return ErrNeedsReauth
	}
	c.mu.Unlock()

	_, err, _ := c.sf.Do("poll", func() (any, error) {
		pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()
		return nil, c.poll(pollCtx, reason)
	})
	return err
}

// Snapshot returns the cached state of one device.
func (c *Coordinator) Snapshot(id model.DeviceID) (model.Snapshot, bool) {
	return c.store.Get(c.account, id)
}

// Snapshots returns the cached state of every known device.
func (c *Coordinator) Snapshots() []model.Snapshot {
	return c.store.List(c.account)
}

// Subscribe registers a listener for poll updates. The returned function
// removes it.
func (c *Coordinator) Subscribe(fn func(Update)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Status reports the current poll state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := "idle"
	if c.polling {
		state = "polling"
	}
	var lastErr string
	if c.lastError != nil {
		lastErr = c.lastError.Error()
	}
	return Status{
		Account:             c.account,
		State:               state,
		LastSuccess:         c.lastSuccess,
		LastError:           lastErr,
		ConsecutiveFailures: c.failures,
		NeedsReauth:         c.needsReauth,
		Devices:             c.store.Count(c.account),
	}
}

func (c *Coordinator) poll(ctx context.Context, reason Reason) error {
	c.mu.Lock()
	c.polling = true
	topo := c.topo
	c.mu.Unlock()

	start := time.Now()
	err := c.pollOnce(ctx, reason, topo)
	pollDuration.WithLabelValues(c.account).Observe(time.Since(start).Seconds())

	if err != nil {
		pollsTotal.WithLabelValues(c.account, string(reason), "error").Inc()
		c.recordFailure(reason, err)
		return err
	}
	pollsTotal.WithLabelValues(c.account, string(reason), "ok").Inc()
	return nil
}

func (c *Coordinator) pollOnce(ctx context.Context, reason Reason, topo *topology) error {
	if topo == nil {
		discovered, err := discoverTopology(ctx, c.client)
		if err != nil {
			return err
		}
		topo = discovered
		c.mu.Lock()
		if !c.closed {
			c.topo = topo
		}
		c.mu.Unlock()
		c.log.Info("topology discovered",
			"installations", len(topo.installations),
			"registers", len(topo.registers))
	}

	var (
		snaps   []model.Snapshot
		removed []model.DeviceID
	)
	for _, installationID := range topo.installations {
		entries, err := c.client.Realtime(ctx, installationID, topo.groups[installationID])
		if err != nil {
			return err
		}
		snaps = append(snaps, c.boardSnapshots(topo, installationID, entries)...)

		for _, dev := range topo.devices[installationID] {
			slaves, err := c.client.Slaves(ctx, installationID, dev.id)
			if errors.Is(err, febos.ErrNotFound) {
				removed = append(removed, c.removeDevice(topo, installationID, dev.id)...)
				continue
			}
			if err != nil {
				return err
			}
			snaps = append(snaps, zoneSnapshots(installationID, dev, slaves)...)
		}
	}

	c.commit(reason, snaps, removed)
	return nil
}

// commit publishes a successful poll. Nothing is written once the account is
// closed: teardown wins over a late result.
func (c *Coordinator) commit(reason Reason, snaps []model.Snapshot, removed []model.DeviceID) {
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.polling = false
	c.failures = 0
	c.lastError = nil
	c.lastSuccess = now

	// Store writes stay under the mutex: Stop marks closed and drops the
	// account in the same section, so either this commit lands before the
	// drop or it is skipped entirely.
	c.store.Apply(c.account, snaps, now)
	var removedIDs []model.DeviceID
	for _, id := range removed {
		if c.store.Remove(c.account, id) {
			removedIDs = append(removedIDs, id)
		}
	}
	restored := c.store.SetAvailability(c.account, true)
	count := c.store.Count(c.account)
	list := c.store.List(c.account)
	c.mu.Unlock()

	for _, id := range removedIDs {
		c.log.Info("device removed upstream", "device", id.String())
	}
	consecutiveFailuresGauge.WithLabelValues(c.account).Set(0)
	devicesGauge.WithLabelValues(c.account).Set(float64(count))

	c.notify(Update{
		Account:             c.account,
		Reason:              reason,
		Snapshots:           list,
		Removed:             removed,
		AvailabilityChanged: restored,
	})
}

func (c *Coordinator) recordFailure(reason Reason, err error) {
	c.mu.Lock()
	c.polling = false
	c.lastError = err

	if febos.IsAuthError(err) {
		c.needsReauth = true
		var changed []model.DeviceID
		if !c.closed {
			changed = c.store.SetAvailability(c.account, false)
		}
		c.mu.Unlock()

		needsReauthGauge.WithLabelValues(c.account).Set(1)
		c.log.Error("authentication failed, polling stopped until credentials are updated", "error", err)
		c.notify(Update{
			Account:             c.account,
			Reason:              reason,
			AvailabilityChanged: changed,
			NeedsReauth:         true,
		})
		return
	}

	c.failures++
	failures := c.failures
	var changed []model.DeviceID
	if failures >= c.cfg.FailureThreshold && !c.closed {
		// Past the threshold stale data must not look fresh.
		changed = c.store.SetAvailability(c.account, false)
	}
	c.mu.Unlock()

	consecutiveFailuresGauge.WithLabelValues(c.account).Set(float64(failures))
	c.log.Warn("poll failed", "consecutive_failures", failures, "error", err)

	if len(changed) == 0 {
		return
	}
	c.notify(Update{
		Account:             c.account,
		Reason:              reason,
		AvailabilityChanged: changed,
	})
}

func (c *Coordinator) notify(update Update) {
	c.mu.Lock()
	listeners := make([]func(Update), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(update)
	}
}

// removeDevice drops every zone and board entry of a vanished device and
// flags the topology for rediscovery on the next poll.
func (c *Coordinator) removeDevice(topo *topology, installationID, deviceID int) []model.DeviceID {
	var removed []model.DeviceID
	for id := range topo.registers {
		if id.Installation == installationID && id.Device == deviceID {
			removed = append(removed, id)
		}
	}
	for _, snap := range c.store.List(c.account) {
		if snap.ID.Installation == installationID && snap.ID.Device == deviceID {
			removed = append(removed, snap.ID)
		}
	}

	c.mu.Lock()
	c.topo = nil
	c.mu.Unlock()
	return dedupeIDs(removed)
}

func (c *Coordinator) boardSnapshots(topo *topology, installationID int, entries []febos.RealtimeEntry) []model.Snapshot {
	var snaps []model.Snapshot
	for _, entry := range entries {
		id := model.DeviceID{Installation: installationID, Device: entry.DeviceID, Thing: entry.ThingID}
		regs := topo.registers[id]
		if regs == nil {
			c.log.Warn("realtime data for unknown thing", "device", id.String())
			continue
		}

		values := make(map[string]model.Value, len(entry.Data))
		for code, raw := range entry.Data {
			reg, ok := regs[code]
			if !ok {
				continue
			}
			value, ok := normalizedValue(reg, raw)
			if !ok {
				c.log.Warn("unparseable register value", "device", id.String(), "code", code)
				continue
			}
			values[code] = value
		}

		ident := topo.identity[id]
		snaps = append(snaps, model.Snapshot{
			ID:           id,
			Name:         ident.name,
			Model:        ident.model,
			Manufacturer: ident.manufacturer,
			Registers:    cloneRegisters(regs),
			Values:       values,
		})
	}
	return snaps
}

// zoneSnapshots converts the device's Crono slaves into zone devices.
func zoneSnapshots(installationID int, dev deviceMeta, slaves []febos.Slave) []model.Snapshot {
	snaps := make([]model.Snapshot, 0, len(slaves))
	for _, slave := range slaves {
		regs := cronoRegisters()
		values := map[string]model.Value{
			model.CodeHeatCall:     model.BoolVal(slave.CallTemp != 0),
			model.CodeHumidityCall: model.BoolVal(slave.CallHumid != 0),
			model.CodeSeason:       model.BoolVal(slave.Season == 0),
			model.CodeComfort:      model.BoolVal(slave.Comfort == 0),
		}
		if slave.SetTemp != nil {
			values[model.CodeSetTemp] = model.Float(febos.NormalizeValue(model.CodeSetTemp, int64(*slave.SetTemp)))
		}
		if slave.Temp != nil {
			values[model.CodeTemp] = model.Float(febos.NormalizeValue(model.CodeTemp, int64(*slave.Temp)))
		}
		if slave.Humid != nil {
			values[model.CodeHumidity] = model.Float(float64(*slave.Humid))
		}

		snaps = append(snaps, model.Snapshot{
			ID:           model.DeviceID{Installation: installationID, Device: dev.id, Thing: slave.Address},
			Name:         fmt.Sprintf("%s Slave %d", dev.model, slave.Address),
			Model:        dev.model,
			Manufacturer: dev.manufacturer,
			Registers:    regs,
			Values:       values,
		})
	}
	return snaps
}

func normalizedValue(reg model.Register, raw febos.RawValue) (model.Value, bool) {
	switch reg.Type {
	case model.BoolValue:
		n, err := raw.Int64()
		if err != nil {
			return model.Value{}, false
		}
		b := n != 0
		if reg.Inverted {
			b = !b
		}
		return model.BoolVal(b), true
	case model.TextValue:
		s, err := raw.Text()
		if err != nil {
			return model.Value{}, false
		}
		return model.TextVal(s), true
	default:
		f, err := raw.Float64()
		if err != nil {
			return model.Value{}, false
		}
		return model.Float(febos.NormalizeFloat(reg.Code, f)), true
	}
}

func cloneRegisters(regs map[string]model.Register) map[string]model.Register {
	out := make(map[string]model.Register, len(regs))
	for code, reg := range regs {
		out[code] = reg
	}
	return out
}

func dedupeIDs(ids []model.DeviceID) []model.DeviceID {
	seen := make(map[model.DeviceID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
