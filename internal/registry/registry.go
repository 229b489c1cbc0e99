// Package registry owns the lifecycle of configured accounts: one Febos
// client plus one polling coordinator per account, torn down together.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gofebos/febos-bridge/internal/coordinator"
	"github.com/gofebos/febos-bridge/internal/febos"
	"github.com/gofebos/febos-bridge/internal/model"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrNotWritable    = errors.New("register is not writable")
)

// Account bundles one login's client and coordinator.
type Account struct {
	ID          string
	Client      *febos.Client
	Coordinator *coordinator.Coordinator

	log *slog.Logger
}

// Registry tracks live accounts. Setting up an id that already exists
// replaces it, which is how credential updates land.
type Registry struct {
	store     *model.Store
	clientCfg febos.Config
	log       *slog.Logger

	mu       sync.Mutex
	accounts map[string]*Account
}

func New(store *model.Store, clientCfg febos.Config, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:     store,
		clientCfg: clientCfg,
		log:       log,
		accounts:  make(map[string]*Account),
	}
}

// AccountID canonicalizes a login into a registry key.
func AccountID(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Setup creates the account's client, starts its coordinator, and registers
// it. An existing account with the same id is torn down first.
func (r *Registry) Setup(ctx context.Context, creds febos.Credentials, cfg coordinator.Config) (*Account, error) {
	id := AccountID(creds.Username)
	if id == "" {
		return nil, fmt.Errorf("empty username")
	}

	client, err := febos.NewClient(r.clientCfg, creds, r.log)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.accounts[id]
	delete(r.accounts, id)
	r.mu.Unlock()
	if old != nil {
		r.log.Info("replacing account", "account", id)
		old.Coordinator.Stop()
	}

	account := &Account{
		ID:          id,
		Client:      client,
		Coordinator: coordinator.New(id, client, r.store, cfg, r.log),
		log:         r.log.With("account", id),
	}
	account.Coordinator.Start(ctx)

	r.mu.Lock()
	r.accounts[id] = account
	r.mu.Unlock()
	return account, nil
}

// Teardown stops the account's coordinator and forgets its devices.
func (r *Registry) Teardown(id string) error {
	r.mu.Lock()
	account := r.accounts[id]
	delete(r.accounts, id)
	r.mu.Unlock()

	if account == nil {
		return ErrUnknownAccount
	}
	account.Coordinator.Stop()
	r.log.Info("account torn down", "account", id)
	return nil
}

func (r *Registry) Get(id string) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	return account, ok
}

// List returns all accounts ordered by id.
func (r *Registry) List() []*Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close tears down every account.
func (r *Registry) Close() {
	for _, account := range r.List() {
		account.Coordinator.Stop()
	}
	r.mu.Lock()
	r.accounts = make(map[string]*Account)
	r.mu.Unlock()
}

// Write sends one register write and then refreshes the account so the cache
// reflects the device's actual state. A failed write leaves the cache
// untouched.
func (a *Account) Write(ctx context.Context, id model.DeviceID, code string, val model.Value) error {
	snap, ok := a.Coordinator.Snapshot(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id.String())
	}
	reg, ok := snap.Registers[code]
	if !ok || !reg.Writable {
		return fmt.Errorf("%w: %s on %s", ErrNotWritable, code, id.String())
	}

	var raw int64
	switch reg.Type {
	case model.BoolValue:
		on := val.Bool
		if reg.Inverted {
			on = !on
		}
		if on {
			raw = 1
		}
	case model.NumberValue:
		if reg.Min != nil && val.Number < *reg.Min {
			return fmt.Errorf("value %.1f below minimum %.1f for %s", val.Number, *reg.Min, code)
		}
		if reg.Max != nil && val.Number > *reg.Max {
			return fmt.Errorf("value %.1f above maximum %.1f for %s", val.Number, *reg.Max, code)
		}
		raw = febos.ToRawValue(code, val.Number)
	default:
		return fmt.Errorf("%w: %s carries text", ErrNotWritable, code)
	}

	if err := a.Client.SetValue(ctx, id.Installation, id.Device, id.Thing, code, raw); err != nil {
		return err
	}
	// The write has landed on the device; a failed follow-up refresh only
	// leaves the cache stale until the next scheduled poll.
	if err := a.Coordinator.Refresh(ctx, coordinator.ReasonManual); err != nil {
		a.log.Warn("refresh after write failed", "device", id.String(), "code", code, "error", err)
	}
	return nil
}
