package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gofebos/febos-bridge/internal/coordinator"
	"github.com/gofebos/febos-bridge/internal/model"
	"github.com/gofebos/febos-bridge/internal/registry"
)

// deviceJSON is the wire form of a cached snapshot.
type deviceJSON struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Model        string             `json:"model,omitempty"`
	Manufacturer string             `json:"manufacturer,omitempty"`
	Available    bool               `json:"available"`
	LastUpdated  time.Time          `json:"last_updated"`
	Values       map[string]any     `json:"values"`
	Registers    []registerJSON     `json:"registers"`
}

type registerJSON struct {
	Code     string   `json:"code"`
	Label    string   `json:"label"`
	Unit     string   `json:"unit,omitempty"`
	Kind     string   `json:"kind"`
	Writable bool     `json:"writable"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// NewMux assembles the full HTTP surface.
func NewMux(reg *registry.Registry, metrics *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.Handle("GET /metrics", MetricsHandler(metrics))
	mux.HandleFunc("GET /accounts", listAccounts(reg))
	mux.HandleFunc("GET /accounts/{id}/devices", listDevices(reg))
	mux.HandleFunc("POST /accounts/{id}/refresh", refreshAccount(reg))
	return mux
}

func listAccounts(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		accounts := reg.List()
		statuses := make([]coordinator.Status, 0, len(accounts))
		for _, account := range accounts {
			statuses = append(statuses, account.Coordinator.Status())
		}
		writeJSON(w, statuses)
	}
}

func listDevices(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := reg.Get(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		snaps := account.Coordinator.Snapshots()
		out := make([]deviceJSON, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, deviceToJSON(snap))
		}
		writeJSON(w, out)
	}
}

func refreshAccount(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := reg.Get(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		err := account.Coordinator.Refresh(r.Context(), coordinator.ReasonManual)
		switch {
		case errors.Is(err, coordinator.ErrNeedsReauth):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func deviceToJSON(snap model.Snapshot) deviceJSON {
	out := deviceJSON{
		ID:           snap.ID.String(),
		Name:         snap.Name,
		Model:        snap.Model,
		Manufacturer: snap.Manufacturer,
		Available:    snap.Available,
		LastUpdated:  snap.LastUpdated,
		Values:       make(map[string]any, len(snap.Values)),
	}
	for code, val := range snap.Values {
		switch val.Kind {
		case model.BoolValue:
			out.Values[code] = val.Bool
		case model.TextValue:
			out.Values[code] = val.Text
		default:
			out.Values[code] = val.Number
		}
	}
	for _, code := range sortedRegisterCodes(snap.Registers) {
		reg := snap.Registers[code]
		out.Registers = append(out.Registers, registerJSON{
			Code:     reg.Code,
			Label:    reg.Label,
			Unit:     reg.Unit,
			Kind:     string(reg.Kind),
			Writable: reg.Writable,
			Min:      reg.Min,
			Max:      reg.Max,
		})
	}
	return out
}

func sortedRegisterCodes(regs map[string]model.Register) []string {
	codes := make([]string, 0, len(regs))
	for code := range regs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
