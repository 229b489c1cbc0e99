package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFixture(thing int) Snapshot {
	return Snapshot{
		ID:   DeviceID{Installation: 1, Device: 7, Thing: thing},
		Name: "Zone",
		Registers: map[string]Register{
			CodeSetTemp: {Code: CodeSetTemp, Kind: KindNumber, Type: NumberValue, Writable: true},
		},
		Values: map[string]Value{
			CodeSetTemp: Float(20.5),
		},
	}
}

func TestApplyUpsertsWithoutRemoving(t *testing.T) {
	store := NewStore()
	now := time.Now()

	store.Apply("acct", []Snapshot{snapshotFixture(1), snapshotFixture(2)}, now)
	require.Equal(t, 2, store.Count("acct"))

	// A partial batch updates what it carries and leaves the rest alone.
	later := now.Add(time.Minute)
	updated := snapshotFixture(1)
	updated.Values[CodeSetTemp] = Float(21)
	store.Apply("acct", []Snapshot{updated}, later)

	one, ok := store.Get("acct", DeviceID{Installation: 1, Device: 7, Thing: 1})
	require.True(t, ok)
	assert.Equal(t, 21.0, one.Values[CodeSetTemp].Number)
	assert.Equal(t, later, one.LastUpdated)

	two, ok := store.Get("acct", DeviceID{Installation: 1, Device: 7, Thing: 2})
	require.True(t, ok)
	assert.Equal(t, 20.5, two.Values[CodeSetTemp].Number)
	assert.Equal(t, now, two.LastUpdated)
}

func TestSetAvailabilityReportsChanges(t *testing.T) {
	store := NewStore()
	store.Apply("acct", []Snapshot{snapshotFixture(1), snapshotFixture(2)}, time.Now())

	changed := store.SetAvailability("acct", false)
	assert.Len(t, changed, 2)

	// Flipping again is a no-op.
	assert.Empty(t, store.SetAvailability("acct", false))

	changed = store.SetAvailability("acct", true)
	assert.Len(t, changed, 2)
}

func TestRemove(t *testing.T) {
	store := NewStore()
	store.Apply("acct", []Snapshot{snapshotFixture(1)}, time.Now())

	id := DeviceID{Installation: 1, Device: 7, Thing: 1}
	assert.True(t, store.Remove("acct", id))
	assert.False(t, store.Remove("acct", id))
	assert.Zero(t, store.Count("acct"))
}

func TestDropAccountIsIsolated(t *testing.T) {
	store := NewStore()
	store.Apply("a", []Snapshot{snapshotFixture(1)}, time.Now())
	store.Apply("b", []Snapshot{snapshotFixture(1)}, time.Now())

	store.DropAccount("a")
	assert.Zero(t, store.Count("a"))
	assert.Equal(t, 1, store.Count("b"))
}

func TestGetReturnsClone(t *testing.T) {
	store := NewStore()
	store.Apply("acct", []Snapshot{snapshotFixture(1)}, time.Now())
	id := DeviceID{Installation: 1, Device: 7, Thing: 1}

	snap, ok := store.Get("acct", id)
	require.True(t, ok)
	snap.Values[CodeSetTemp] = Float(99)
	snap.Registers[CodeSetTemp] = Register{Code: CodeSetTemp}

	again, _ := store.Get("acct", id)
	assert.Equal(t, 20.5, again.Values[CodeSetTemp].Number)
	assert.True(t, again.Registers[CodeSetTemp].Writable)
}

func TestListOrdersByID(t *testing.T) {
	store := NewStore()
	store.Apply("acct", []Snapshot{snapshotFixture(2), snapshotFixture(1)}, time.Now())

	list := store.List("acct")
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID.Thing)
	assert.Equal(t, 2, list[1].ID.Thing)
}
