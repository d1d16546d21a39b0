//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
	"github.com/safehold/shieldd/internal/infra"
	"github.com/safehold/shieldd/internal/usecase"
)

// Exercises the cross-process hand-off through real files in a shared
// directory: one side plays the primary process (heartbeat + snapshot),
// the other runs the background monitor against the same stores.
var _ = Describe("Liveness Monitor", func() {
	var (
		sharedDir  string
		prefs      *infra.PrefStore
		snapshots  *infra.FileSnapshotStore
		heartbeats *infra.SharedHeartbeatStore
		flags      *infra.PrefFlagStore
		filter     *infra.FileContentFilter
		monitor    *usecase.Monitor

		staleness = 150 * time.Millisecond
	)

	BeforeEach(func() {
		var err error
		sharedDir, err = os.MkdirTemp("", "shieldd-integration-*")
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		prefs = infra.NewPrefStore(filepath.Join(sharedDir, "prefs.json"))
		snapshots = infra.NewFileSnapshotStore(filepath.Join(sharedDir, "active_rules.json"), prefs, logger)
		heartbeats = infra.NewSharedHeartbeatStore(prefs, filepath.Join(sharedDir, "foreground.marker"))
		flags = infra.NewPrefFlagStore(prefs)
		filter = infra.NewFileContentFilter(filepath.Join(sharedDir, "filter_state.json"), logger)

		monitor = usecase.NewMonitor(
			usecase.MonitorConfig{
				StalenessThreshold: staleness,
				GraceWindow:        50 * time.Millisecond,
				SnapshotMaxAge:     time.Hour,
			},
			heartbeats, snapshots, flags,
			usecase.NewReconciler(filter, logger),
			nil, nil,
			logger,
		)
	})

	AfterEach(func() {
		os.RemoveAll(sharedDir)
	})

	writeSnapshot := func() {
		ok := snapshots.Save(&domain.ActiveRuleSnapshot{
			ActiveRuleTokens: []domain.ContentToken{
				{ID: "tok-app", Kind: domain.KindApplication, Payload: []byte(`{"bundleId":"com.games.arcade"}`)},
				{ID: "tok-web", Kind: domain.KindWebDomain, Payload: []byte(`{"domain":"arcade.example.com"}`)},
			},
			LastUpdated:   time.Now(),
			SchemaVersion: domain.SnapshotSchemaVersion,
		})
		Expect(ok).To(BeTrue())
	}

	Describe("while the primary process is alive", func() {
		It("stands down and leaves the filter untouched", func() {
			writeSnapshot()
			Expect(heartbeats.Beat()).To(Succeed())

			result := monitor.CheckOnce(time.Now())

			Expect(result.Action).To(Equal(domain.ActionStandDown))
			Expect(result.NextWake).To(Equal(staleness + 50*time.Millisecond))
			Expect(flags.SafetyNetActive()).To(BeFalse())

			state, err := filter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil(), "no filter state file is written on stand-down")
		})

		It("clears a leftover safety-net flag", func() {
			Expect(flags.SetSafetyNetActive(true)).To(Succeed())
			Expect(heartbeats.Beat()).To(Succeed())

			monitor.CheckOnce(time.Now())

			Expect(flags.SafetyNetActive()).To(BeFalse())
		})
	})

	Describe("when the heartbeat goes stale", func() {
		It("applies every token from the last snapshot", func() {
			writeSnapshot()
			Expect(heartbeats.Beat()).To(Succeed())
			time.Sleep(staleness + 50*time.Millisecond)

			result := monitor.CheckOnce(time.Now())

			Expect(result.Action).To(Equal(domain.ActionApplySafetyNet))
			Expect(result.TokensBlocked).To(Equal(2))
			Expect(flags.SafetyNetActive()).To(BeTrue())

			state, err := filter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.Applications).To(Equal([]string{"com.games.arcade"}))
			Expect(state.WebDomains).To(Equal([]string{"arcade.example.com"}))
			Expect(state.ActivityCategories).To(BeEmpty())
		})

		It("keeps enforcement in place after the primary recovers", func() {
			writeSnapshot()
			Expect(heartbeats.Beat()).To(Succeed())
			time.Sleep(staleness + 50*time.Millisecond)
			monitor.CheckOnce(time.Now())

			// Primary comes back and beats again.
			Expect(heartbeats.Beat()).To(Succeed())
			result := monitor.CheckOnce(time.Now())

			Expect(result.Action).To(Equal(domain.ActionStandDown))
			Expect(flags.SafetyNetActive()).To(BeFalse())

			// Stand-down never unblocks; only the primary does.
			state, err := filter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.Applications).To(Equal([]string{"com.games.arcade"}))
		})
	})

	Describe("when no heartbeat was ever written", func() {
		It("fails safe even on a cold start", func() {
			writeSnapshot()

			result := monitor.CheckOnce(time.Now())

			Expect(result.Action).To(Equal(domain.ActionApplySafetyNet))
			Expect(result.TokensBlocked).To(Equal(2))
		})
	})

	Describe("when the snapshot is too old", func() {
		It("flags the outage but refuses to enforce stale data", func() {
			ok := snapshots.Save(&domain.ActiveRuleSnapshot{
				ActiveRuleTokens: []domain.ContentToken{
					{ID: "tok-app", Kind: domain.KindApplication, Payload: []byte(`{"bundleId":"com.games.arcade"}`)},
				},
				LastUpdated:   time.Now().Add(-2 * time.Hour),
				SchemaVersion: domain.SnapshotSchemaVersion,
			})
			Expect(ok).To(BeTrue())

			result := monitor.CheckOnce(time.Now())

			Expect(result.Action).To(Equal(domain.ActionApplySafetyNet))
			Expect(result.TokensBlocked).To(BeZero())
			Expect(flags.SafetyNetActive()).To(BeTrue())

			state, err := filter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})
	})

	Describe("snapshot durability", func() {
		It("survives a corrupted snapshot file through the preferences fallback", func() {
			writeSnapshot()
			// The file tier is authoritative; prefs only hold a copy when
			// the file write failed. Corrupting the file here leaves
			// nothing valid to load.
			snapshotPath := filepath.Join(sharedDir, "active_rules.json")
			Expect(os.WriteFile(snapshotPath, []byte("{truncated"), 0o644)).To(Succeed())

			loaded := snapshots.Load()
			Expect(loaded).To(BeNil(), "corrupt file with no prefs mirror yields no snapshot")

			result := monitor.CheckOnce(time.Now())
			Expect(result.Action).To(Equal(domain.ActionApplySafetyNet))
			Expect(result.TokensBlocked).To(BeZero())
		})
	})
})
