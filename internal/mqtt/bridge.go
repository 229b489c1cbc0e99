package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofebos/febos-bridge/internal/coordinator"
	"github.com/gofebos/febos-bridge/internal/model"
	"github.com/gofebos/febos-bridge/internal/registry"
)

const commandTimeout = 20 * time.Second

// Config sets up the broker connection and topic layout.
type Config struct {
	Broker          string
	Username        string
	Password        string
	DiscoveryPrefix string
	TopicPrefix     string
}

// Bridge mirrors the device cache onto the broker. Discovery configs and
// states are published retained so Home Assistant restarts pick them up
// without waiting for a poll.
type Bridge struct {
	client          *client
	log             *slog.Logger
	discoveryPrefix string
	topicPrefix     string

	mu sync.Mutex
	// discovered maps a device key to the retained config topics published
	// for it, so removal can clear them.
	discovered map[string][]string
	unsubs     []func()
}

func NewBridge(cfg Config, log *slog.Logger) (*Bridge, error) {
	if log == nil {
		log = slog.Default()
	}
	c, err := newClient(clientConfig{
		broker:   cfg.Broker,
		username: cfg.Username,
		password: cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	return &Bridge{
		client:          c,
		log:             log,
		discoveryPrefix: cfg.DiscoveryPrefix,
		topicPrefix:     cfg.TopicPrefix,
		discovered:      make(map[string][]string),
	}, nil
}

// AttachAccount starts mirroring one account's coordinator updates.
func (b *Bridge) AttachAccount(account *registry.Account) {
	unsub := account.Coordinator.Subscribe(func(update coordinator.Update) {
		b.handleUpdate(account, update)
	})
	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()
}

// Close detaches from all coordinators and disconnects from the broker.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	b.client.close()
}

func (b *Bridge) handleUpdate(account *registry.Account, update coordinator.Update) {
	for _, id := range update.Removed {
		b.clearDevice(update.Account, id)
	}
	for _, snap := range update.Snapshots {
		b.ensureDiscovery(account, snap)
		b.publishState(snap)
	}
	// Failure updates carry no snapshots; fetch the flipped devices so their
	// availability topic still changes.
	if len(update.Snapshots) == 0 {
		for _, id := range update.AvailabilityChanged {
			if snap, ok := account.Coordinator.Snapshot(id); ok {
				b.publishAvailability(snap)
			}
		}
	}
}

// ensureDiscovery publishes the retained config messages for a device the
// first time it is seen and wires up its command topics.
func (b *Bridge) ensureDiscovery(account *registry.Account, snap model.Snapshot) {
	key := deviceKey(snap.Account, snap.ID)
	b.mu.Lock()
	if _, ok := b.discovered[key]; ok {
		b.mu.Unlock()
		return
	}
	b.discovered[key] = nil
	b.mu.Unlock()

	var configTopics []string
	for _, code := range sortedCodes(snap.Registers) {
		reg := snap.Registers[code]
		topic := b.configTopic(reg.Kind, b.uniqueID(snap.Account, snap.ID, reg.Code))
		b.publishJSON(topic, b.registerPayload(snap, reg), true)
		configTopics = append(configTopics, topic)

		if reg.Writable {
			b.subscribeCommand(account, snap.ID, reg)
		}
	}
	if isZone(snap) {
		topic := b.configTopic(model.KindClimate, b.uniqueID(snap.Account, snap.ID, "climate"))
		b.publishJSON(topic, b.climatePayload(snap), true)
		configTopics = append(configTopics, topic)
	}

	b.mu.Lock()
	b.discovered[key] = configTopics
	b.mu.Unlock()
	b.log.Info("entities announced", "device", snap.ID.String(), "entities", len(configTopics))
}

func (b *Bridge) subscribeCommand(account *registry.Account, id model.DeviceID, reg model.Register) {
	topic := b.commandTopic(account.ID, id, reg.Code)
	unsub, err := b.client.subscribe(topic, func(payload []byte) {
		b.handleCommand(account, id, reg, string(payload))
	})
	if err != nil {
		b.log.Error("command subscribe failed", "topic", topic, "error", err)
		return
	}
	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()
}

func (b *Bridge) handleCommand(account *registry.Account, id model.DeviceID, reg model.Register, payload string) {
	val, err := parseCommand(reg, payload)
	if err != nil {
		commandsTotal.WithLabelValues(account.ID, "invalid").Inc()
		b.log.Warn("unparseable command", "device", id.String(), "code", reg.Code, "payload", payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := account.Write(ctx, id, reg.Code, val); err != nil {
		commandsTotal.WithLabelValues(account.ID, "error").Inc()
		b.log.Error("write failed", "device", id.String(), "code", reg.Code, "error", err)
		return
	}
	commandsTotal.WithLabelValues(account.ID, "ok").Inc()
}

func (b *Bridge) publishState(snap model.Snapshot) {
	for code, val := range snap.Values {
		reg, ok := snap.Registers[code]
		if !ok {
			continue
		}
		b.publishRetained(b.stateTopic(snap.Account, snap.ID, code), formatValue(reg, val))
	}
	if isZone(snap) {
		action := "idle"
		if snap.Heating() {
			action = "heating"
		}
		b.publishRetained(b.actionTopic(snap.Account, snap.ID), action)
	}
	b.publishAvailability(snap)
}

func (b *Bridge) publishAvailability(snap model.Snapshot) {
	state := "offline"
	if snap.Available {
		state = "online"
	}
	b.publishRetained(b.availabilityTopic(snap.Account, snap.ID), state)
}

// clearDevice erases the retained discovery and state of a removed device.
// An empty config payload tells Home Assistant to drop the entity.
func (b *Bridge) clearDevice(account string, id model.DeviceID) {
	key := deviceKey(account, id)
	b.mu.Lock()
	configTopics := b.discovered[key]
	delete(b.discovered, key)
	b.mu.Unlock()

	for _, topic := range configTopics {
		b.publishRetained(topic, "")
	}
	b.publishRetained(b.availabilityTopic(account, id), "offline")
}

func (b *Bridge) publishJSON(topic string, payload any, retain bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("marshal payload", "topic", topic, "error", err)
		return
	}
	if err := b.client.publish(topic, data, retain); err != nil {
		publishErrorsTotal.Inc()
		b.log.Error("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishRetained(topic, payload string) {
	if err := b.client.publish(topic, []byte(payload), true); err != nil {
		publishErrorsTotal.Inc()
		b.log.Error("publish failed", "topic", topic, "error", err)
	}
}

func parseCommand(reg model.Register, payload string) (model.Value, error) {
	switch reg.Type {
	case model.BoolValue:
		switch strings.ToUpper(strings.TrimSpace(payload)) {
		case "ON", "1", "TRUE":
			return model.BoolVal(true), nil
		case "OFF", "0", "FALSE":
			return model.BoolVal(false), nil
		}
		return model.Value{}, strconv.ErrSyntax
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return model.Value{}, err
		}
		return model.Float(f), nil
	}
}

func formatValue(reg model.Register, val model.Value) string {
	switch val.Kind {
	case model.BoolValue:
		if val.Bool {
			return "ON"
		}
		return "OFF"
	case model.TextValue:
		return val.Text
	default:
		return strconv.FormatFloat(val.Number, 'f', -1, 64)
	}
}

func sortedCodes(regs map[string]model.Register) []string {
	codes := make([]string, 0, len(regs))
	for code := range regs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func deviceKey(account string, id model.DeviceID) string {
	return account + "/" + id.String()
}
