package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

func newTestRuleStore(t *testing.T) *EncryptedRuleStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewEncryptedRuleStore(dir, NewFileKeyProvider(dir), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func beaconRule(name string) domain.Rule {
	return domain.Rule{
		Name:   name,
		Active: true,
		BlockedTokens: []domain.ContentToken{
			{ID: "tok-" + name, Kind: domain.KindApplication, Payload: []byte(`{"bundleId":"com.example.app"}`)},
		},
		BeaconConditions: []domain.BeaconCondition{
			{BeaconKey: "uuid/1/1", RequiredState: domain.ProximityNear},
		},
	}
}

func TestRuleStore_PutAssignsID(t *testing.T) {
	store := newTestRuleStore(t)

	require.NoError(t, store.Put(beaconRule("homework")))

	rules, err := store.All()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.NotEmpty(t, rules[0].ID)
	assert.Equal(t, "homework", rules[0].Name)
}

func TestRuleStore_RoundTripConditions(t *testing.T) {
	store := newTestRuleStore(t)

	rule := beaconRule("bedtime")
	rule.TimeConditions = []domain.TimeWindow{{DayOfWeek: 1, StartTime: "21:00", EndTime: "23:59"}}
	rule.LocationConditions = []domain.GeofenceCondition{{RegionID: "home", RequiredInside: true}}
	require.NoError(t, store.Put(rule))

	rules, err := store.All()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]
	assert.Equal(t, rule.TimeConditions, got.TimeConditions)
	assert.Equal(t, rule.BeaconConditions, got.BeaconConditions)
	assert.Equal(t, rule.LocationConditions, got.LocationConditions)
	assert.Equal(t, rule.BlockedTokens[0].Payload, got.BlockedTokens[0].Payload)
}

func TestRuleStore_ActiveRulesFiltersInactive(t *testing.T) {
	store := newTestRuleStore(t)

	active := beaconRule("active")
	inactive := beaconRule("inactive")
	inactive.Active = false
	require.NoError(t, store.Put(active))
	require.NoError(t, store.Put(inactive))

	rules, err := store.ActiveRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "active", rules[0].Name)
}

func TestRuleStore_SetActive(t *testing.T) {
	store := newTestRuleStore(t)

	require.NoError(t, store.Put(beaconRule("toggle")))
	rules, err := store.All()
	require.NoError(t, err)
	id := rules[0].ID

	require.NoError(t, store.SetActive(id, false))
	activeRules, err := store.ActiveRules()
	require.NoError(t, err)
	assert.Empty(t, activeRules)

	assert.Error(t, store.SetActive("no-such-id", true))
}

func TestRuleStore_Delete(t *testing.T) {
	store := newTestRuleStore(t)

	require.NoError(t, store.Put(beaconRule("doomed")))
	rules, err := store.All()
	require.NoError(t, err)

	require.NoError(t, store.Delete(rules[0].ID))
	rules, err = store.All()
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.Error(t, store.Delete("no-such-id"))
}

func TestRuleStore_MutationsSignalChanges(t *testing.T) {
	store := newTestRuleStore(t)

	require.NoError(t, store.Put(beaconRule("notify")))

	select {
	case <-store.Changes():
	default:
		t.Fatal("expected a change signal after Put")
	}

	// Signals coalesce: a burst of mutations still leaves the channel
	// readable exactly once.
	require.NoError(t, store.Put(beaconRule("one")))
	require.NoError(t, store.Put(beaconRule("two")))
	select {
	case <-store.Changes():
	default:
		t.Fatal("expected a coalesced change signal")
	}
	select {
	case <-store.Changes():
		t.Fatal("signals must coalesce, not queue")
	default:
	}
}

func TestRuleStore_WrongKeyFailsToOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewEncryptedRuleStore(dir, NewFileKeyProvider(dir), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Put(beaconRule("secret")))
	require.NoError(t, store.Close())

	// Deleting the key file makes the provider provision a fresh key, so
	// the reopen runs against the old database with the wrong passphrase.
	require.NoError(t, os.Remove(filepath.Join(dir, keyFileName)))
	reopened, err := NewEncryptedRuleStore(dir, NewFileKeyProvider(dir), zap.NewNop())
	if err == nil {
		// Some sqlcipher versions fail on first query rather than open.
		_, err = reopened.All()
		reopened.Close()
	}
	assert.Error(t, err, "opening with the wrong key must not expose rules")
}
