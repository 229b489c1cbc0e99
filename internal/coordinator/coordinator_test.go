package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofebos/febos-bridge/internal/febos"
	"github.com/gofebos/febos-bridge/internal/model"
)

// fakeClient serves a fixed one-installation topology: device 7 with thing 3
// exposing S05, and one Crono zone at slave address 2.
type fakeClient struct {
	mu            sync.Mutex
	realtimeCalls int
	realtimeErr   error
	slavesErr     error
	block         chan struct{}
	setTemp       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{setTemp: 205}
}

func (f *fakeClient) Installations(_ context.Context) ([]int, error) {
	return []int{1}, nil
}

func (f *fakeClient) PageConfig(_ context.Context, _ int) (febos.PageConfig, error) {
	return febos.PageConfig{
		DeviceMap: map[string]febos.DeviceInfo{
			"7": {ID: 7, Code: "FEB", ModelName: "Febos HP", TenantName: "EmmeTI"},
		},
		ThingMap: map[string]febos.Thing{
			"3": {ID: 3, DeviceID: 7, ModelCode: "HP200", ModelName: "Heat Pump"},
		},
		PageMap: map[string]febos.Page{
			"p1": {TabList: []febos.Tab{{WidgetList: []febos.Widget{{
				WidgetInputGroupList: []febos.InputGroup{{
					InputGroupGetCode: "grp_a",
					InputList: []febos.Input{{
						Code: "S05", Label: "Temperatura", InputType: "FLOAT",
						MeasUnit: "°C", DeviceID: 7, ThingID: 3,
					}},
				}},
			}}}}},
		},
	}, nil
}

func (f *fakeClient) Realtime(_ context.Context, _ int, _ []string) ([]febos.RealtimeEntry, error) {
	f.mu.Lock()
	f.realtimeCalls++
	err := f.realtimeErr
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return []febos.RealtimeEntry{{
		DeviceID: 7,
		ThingID:  3,
		Data:     map[string]febos.RawValue{"S05": febos.NumberRaw(215)},
	}}, nil
}

func (f *fakeClient) Slaves(_ context.Context, _ int, _ int) ([]febos.Slave, error) {
	f.mu.Lock()
	err := f.slavesErr
	setTemp := f.setTemp
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	temp, humid := 212, 48
	return []febos.Slave{{
		Address: 2, CallTemp: 1, Season: 0, Comfort: 1,
		SetTemp: &setTemp, Temp: &temp, Humid: &humid,
	}}, nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.realtimeCalls
}

func (f *fakeClient) setErrors(realtime, slaves error) {
	f.mu.Lock()
	f.realtimeErr = realtime
	f.slavesErr = slaves
	f.mu.Unlock()
}

func newTestCoordinator(client Client) (*Coordinator, *model.Store) {
	store := model.NewStore()
	coord := New("acct", client, store, Config{}, nil)
	return coord, store
}

func TestPollBuildsSnapshots(t *testing.T) {
	coord, _ := newTestCoordinator(newFakeClient())

	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))

	snaps := coord.Snapshots()
	require.Len(t, snaps, 2)

	board, ok := coord.Snapshot(model.DeviceID{Installation: 1, Device: 7, Thing: 3})
	require.True(t, ok)
	assert.Equal(t, "HP200-3: Heat Pump", board.Name)
	assert.Equal(t, "FEB: Febos HP", board.Model)
	assert.True(t, board.Available)
	v, ok := board.Value("S05")
	require.True(t, ok)
	assert.Equal(t, 21.5, v.Number)

	zone, ok := coord.Snapshot(model.DeviceID{Installation: 1, Device: 7, Thing: 2})
	require.True(t, ok)
	assert.Equal(t, "Febos HP Slave 2", zone.Name)
	target, ok := zone.TargetTemperature()
	require.True(t, ok)
	assert.Equal(t, 20.5, target)
	current, ok := zone.CurrentTemperature()
	require.True(t, ok)
	assert.Equal(t, 21.2, current)
	assert.True(t, zone.Heating())

	// Comfort raw 1 means not in comfort; season raw 0 means heating.
	comfort, _ := zone.Value(model.CodeComfort)
	assert.False(t, comfort.Bool)
	season, _ := zone.Value(model.CodeSeason)
	assert.True(t, season.Bool)
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	client := newFakeClient()
	client.block = make(chan struct{})
	coord, _ := newTestCoordinator(client)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = coord.Refresh(context.Background(), ReasonManual)
		}()
	}
	// Let every caller reach the in-flight poll before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(client.block)
	wg.Wait()

	assert.Equal(t, 1, client.calls(), "concurrent refreshes must share one round trip")
}

func TestFailureThresholdMarksUnavailable(t *testing.T) {
	client := newFakeClient()
	coord, _ := newTestCoordinator(client)

	var updates []Update
	var mu sync.Mutex
	coord.Subscribe(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))

	client.setErrors(febos.NetworkError{Op: "poll", Err: errors.New("timeout")}, nil)
	for i := 0; i < DefaultFailureThreshold; i++ {
		require.Error(t, coord.Refresh(context.Background(), ReasonScheduled))
		for _, snap := range coord.Snapshots() {
			if i < DefaultFailureThreshold-1 {
				assert.True(t, snap.Available, "stays available below the threshold")
			} else {
				assert.False(t, snap.Available, "unavailable at the threshold")
			}
		}
	}

	mu.Lock()
	last := updates[len(updates)-1]
	mu.Unlock()
	assert.NotEmpty(t, last.AvailabilityChanged)
	assert.False(t, last.NeedsReauth)

	// Recovery flips availability back and resets the counter.
	client.setErrors(nil, nil)
	require.NoError(t, coord.Refresh(context.Background(), ReasonScheduled))
	for _, snap := range coord.Snapshots() {
		assert.True(t, snap.Available)
	}
	assert.Equal(t, 0, coord.Status().ConsecutiveFailures)
}

func TestAuthErrorStopsPolling(t *testing.T) {
	client := newFakeClient()
	coord, _ := newTestCoordinator(client)

	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))

	client.setErrors(febos.AuthError{Reason: "credentials rejected"}, nil)
	err := coord.Refresh(context.Background(), ReasonScheduled)
	require.True(t, febos.IsAuthError(err))

	status := coord.Status()
	assert.True(t, status.NeedsReauth)
	for _, snap := range coord.Snapshots() {
		assert.False(t, snap.Available)
	}

	// Further refreshes are refused without touching the network.
	before := client.calls()
	err = coord.Refresh(context.Background(), ReasonManual)
	require.ErrorIs(t, err, ErrNeedsReauth)
	assert.Equal(t, before, client.calls())
}

func TestVanishedDeviceIsRemoved(t *testing.T) {
	client := newFakeClient()
	coord, _ := newTestCoordinator(client)

	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))
	require.Len(t, coord.Snapshots(), 2)

	var removed []model.DeviceID
	var mu sync.Mutex
	coord.Subscribe(func(u Update) {
		mu.Lock()
		removed = append(removed, u.Removed...)
		mu.Unlock()
	})

	client.setErrors(nil, febos.ErrNotFound)
	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))

	mu.Lock()
	gotRemoved := len(removed)
	mu.Unlock()
	assert.NotZero(t, gotRemoved)
	assert.Empty(t, coord.Snapshots(), "board and zone entries drop with the device")
}

func TestStopDiscardsLateResults(t *testing.T) {
	client := newFakeClient()
	client.block = make(chan struct{})
	coord, store := newTestCoordinator(client)

	done := make(chan error, 1)
	go func() {
		done <- coord.Refresh(context.Background(), ReasonManual)
	}()
	time.Sleep(50 * time.Millisecond)

	go coord.Stop()
	time.Sleep(50 * time.Millisecond)
	close(client.block)
	<-done

	assert.Zero(t, store.Count("acct"), "a poll finishing after teardown must not repopulate the store")
}

func TestStopRacingManualRefreshNeverRepopulatesStore(t *testing.T) {
	for i := 0; i < 500; i++ {
		client := newFakeClient()
		coord, store := newTestCoordinator(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = coord.Refresh(context.Background(), ReasonManual)
		}()
		coord.Stop()
		<-done

		if n := store.Count("acct"); n != 0 {
			t.Fatalf("iteration %d: store repopulated after Stop: %d devices", i, n)
		}
	}
}

func TestNormalizedValueKeepsFractions(t *testing.T) {
	reg := model.Register{Code: "R8999", Type: model.NumberValue}

	v, ok := normalizedValue(reg, febos.RawValue{I: json.RawMessage("21.5")})
	require.True(t, ok)
	assert.Equal(t, 21.5, v.Number)

	// Scaled registers keep the fraction through the divisor as well.
	reg = model.Register{Code: "S05", Type: model.NumberValue}
	v, ok = normalizedValue(reg, febos.RawValue{I: json.RawMessage("215.5")})
	require.True(t, ok)
	assert.Equal(t, 21.55, v.Number)
}

func TestSnapshotsAreIsolatedCopies(t *testing.T) {
	coord, _ := newTestCoordinator(newFakeClient())
	require.NoError(t, coord.Refresh(context.Background(), ReasonManual))

	id := model.DeviceID{Installation: 1, Device: 7, Thing: 3}
	snap, ok := coord.Snapshot(id)
	require.True(t, ok)
	snap.Values["S05"] = model.Float(999)

	again, _ := coord.Snapshot(id)
	assert.Equal(t, 21.5, again.Values["S05"].Number)
}
