package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/fathomlabs/mnemo/internal/store"
)

func daysAgo(n int) int64 {
	return time.Now().UnixMilli() - int64(n)*dayMillis
}

func TestDecayedConfidenceFactFixed(t *testing.T) {
	m := &store.Memory{MemoryType: store.TypeFact, Confidence: 1.0, BaseConfidence: 1.0, CreatedAt: daysAgo(365), AnchorAt: daysAgo(365)}
	conf, decays := decayedConfidence(m, time.Now())
	if decays {
		t.Error("facts must not decay")
	}
	if conf != 1.0 {
		t.Errorf("conf = %f, want 1.0", conf)
	}
}

func TestDecayedConfidenceHalfLives(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		m    store.Memory
		want float64
	}{
		{
			// One preference half-life: 0.8 → 0.4.
			"preference 180d",
			store.Memory{MemoryType: store.TypePreference, BaseConfidence: 0.8, AnchorAt: daysAgo(180), CreatedAt: daysAgo(180)},
			0.4,
		},
		{
			// One episode half-life from created_at.
			"episode 7d",
			store.Memory{MemoryType: store.TypeEpisode, BaseConfidence: 0.9, CreatedAt: daysAgo(7), AnchorAt: daysAgo(7)},
			0.45,
		},
		{
			// One derived half-life.
			"derived 90d",
			store.Memory{MemoryType: store.TypeDerived, BaseConfidence: 0.8, CreatedAt: daysAgo(90), AnchorAt: daysAgo(90)},
			0.4,
		},
	}
	for _, tc := range cases {
		conf, decays := decayedConfidence(&tc.m, now)
		if !decays {
			t.Errorf("%s: expected decay", tc.name)
			continue
		}
		if math.Abs(conf-tc.want) > 0.005 {
			t.Errorf("%s: conf = %f, want ~%f", tc.name, conf, tc.want)
		}
	}
}

func TestDecayedConfidenceEpisodeAnchorsAtValidTo(t *testing.T) {
	// Created 30 days ago but valid until 7 days ago: the clock starts at
	// valid_to, so only one half-life has elapsed.
	validTo := daysAgo(7)
	m := &store.Memory{
		MemoryType:     store.TypeEpisode,
		BaseConfidence: 0.9,
		CreatedAt:      daysAgo(30),
		AnchorAt:       daysAgo(30),
		ValidTo:        &validTo,
	}
	conf, _ := decayedConfidence(m, time.Now())
	if math.Abs(conf-0.45) > 0.005 {
		t.Errorf("conf = %f, want ~0.45", conf)
	}
}

func TestDecayedConfidenceFutureAnchor(t *testing.T) {
	m := &store.Memory{MemoryType: store.TypePreference, BaseConfidence: 0.8, AnchorAt: time.Now().UnixMilli() + dayMillis}
	conf, decays := decayedConfidence(m, time.Now())
	if !decays || conf != 0.8 {
		t.Errorf("conf = %f (decays=%v), want base 0.8", conf, decays)
	}
}

func TestRunDecayTickUpdatesAndSoftDeletes(t *testing.T) {
	e := testEngine(t, nil, nil)

	// Fresh episode: confidence drops but stays above the floor.
	fading := &store.Memory{Content: "fading", MemoryType: store.TypeEpisode, ContainerTag: "c", CreatedAt: daysAgo(7), AnchorAt: daysAgo(7), ValidFrom: daysAgo(7)}
	// Old episode: well past five half-lives, falls below 0.1.
	gone := &store.Memory{Content: "gone", MemoryType: store.TypeEpisode, ContainerTag: "c", CreatedAt: daysAgo(40), AnchorAt: daysAgo(40), ValidFrom: daysAgo(40)}
	// Facts are untouched no matter the age.
	fact := &store.Memory{Content: "fact", MemoryType: store.TypeFact, ContainerTag: "c", CreatedAt: daysAgo(400), AnchorAt: daysAgo(400), ValidFrom: daysAgo(400)}
	for _, m := range []*store.Memory{fading, gone, fact} {
		if err := e.DB.CreateMemory(m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	stats, err := e.RunDecayTick(context.Background())
	if err != nil {
		t.Fatalf("RunDecayTick: %v", err)
	}
	if stats.Scanned != 3 {
		t.Errorf("scanned = %d, want 3", stats.Scanned)
	}
	if stats.SoftDeleted != 1 {
		t.Errorf("soft-deleted = %d, want 1", stats.SoftDeleted)
	}

	gotFading, _ := e.DB.GetMemory(fading.ID)
	if gotFading.ForgottenAt != nil {
		t.Error("fading episode should not be forgotten yet")
	}
	if math.Abs(gotFading.Confidence-0.45) > 0.01 {
		t.Errorf("fading confidence = %f, want ~0.45", gotFading.Confidence)
	}

	gotGone, _ := e.DB.GetMemory(gone.ID)
	if gotGone.ForgottenAt == nil {
		t.Error("old episode should be soft-deleted")
	}

	gotFact, _ := e.DB.GetMemory(fact.ID)
	if gotFact.Confidence != 1.0 || gotFact.ForgottenAt != nil {
		t.Error("fact should be untouched by decay")
	}
}

func TestRunDecayTickMonotonic(t *testing.T) {
	e := testEngine(t, nil, nil)

	m := &store.Memory{Content: "ep", MemoryType: store.TypeEpisode, ContainerTag: "c", CreatedAt: daysAgo(3), AnchorAt: daysAgo(3), ValidFrom: daysAgo(3)}
	e.DB.CreateMemory(m)

	if _, err := e.RunDecayTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	first, _ := e.DB.GetMemory(m.ID)

	// A second tick moments later recomputes essentially the same value;
	// it must never raise confidence.
	if _, err := e.RunDecayTick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	second, _ := e.DB.GetMemory(m.ID)
	if second.Confidence > first.Confidence {
		t.Errorf("confidence rose from %f to %f", first.Confidence, second.Confidence)
	}
}

func TestReinforcementResetsDecayClock(t *testing.T) {
	e := testEngine(t, nil, nil)

	m := &store.Memory{Content: "prefers tea", MemoryType: store.TypePreference, ContainerTag: "c", CreatedAt: daysAgo(180), AnchorAt: daysAgo(180), ValidFrom: daysAgo(180)}
	e.DB.CreateMemory(m)

	// Decayed to roughly half by now.
	if _, err := e.RunDecayTick(context.Background()); err != nil {
		t.Fatalf("RunDecayTick: %v", err)
	}
	decayed, _ := e.DB.GetMemory(m.ID)
	if decayed.Confidence > 0.45 {
		t.Fatalf("confidence = %f, expected ~0.4 after a half-life", decayed.Confidence)
	}

	// Access reinforces and moves the anchor to now.
	now := time.Now().UnixMilli()
	if _, err := e.DB.Reinforce(m.ID, reinforceBonus, now); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}

	// The next tick decays from the new anchor: no elapsed time, no drop.
	if _, err := e.RunDecayTick(context.Background()); err != nil {
		t.Fatalf("RunDecayTick: %v", err)
	}
	got, _ := e.DB.GetMemory(m.ID)
	want := decayed.Confidence + reinforceBonus
	if math.Abs(got.Confidence-want) > 0.01 {
		t.Errorf("confidence = %f, want ~%f (reinforced, clock reset)", got.Confidence, want)
	}
}

func TestDerivedInvalidatedWhenSourceSuperseded(t *testing.T) {
	e := testEngine(t, nil, nil)

	a := &store.Memory{Content: "source a", MemoryType: store.TypeFact, ContainerTag: "c"}
	b := &store.Memory{Content: "source b", MemoryType: store.TypeFact, ContainerTag: "c"}
	e.DB.CreateMemory(a)
	e.DB.CreateMemory(b)
	derived := &store.Memory{Content: "derived", ContainerTag: "c"}
	if err := e.DB.ApplyDerive(derived, []string{a.ID, b.ID}, 0.9); err != nil {
		t.Fatalf("ApplyDerive: %v", err)
	}

	// Healthy sources: derivation survives the tick.
	stats, err := e.RunDecayTick(context.Background())
	if err != nil {
		t.Fatalf("RunDecayTick: %v", err)
	}
	if stats.Invalidated != 0 {
		t.Fatalf("invalidated = %d, want 0", stats.Invalidated)
	}

	// Supersede a source; the derivation must fall on the next tick.
	newer := &store.Memory{Content: "source a v2", MemoryType: store.TypeFact, ContainerTag: "c"}
	e.DB.CreateMemory(newer)
	e.DB.ApplyUpdate(newer.ID, a.ID, 0.9)

	stats, err = e.RunDecayTick(context.Background())
	if err != nil {
		t.Fatalf("second RunDecayTick: %v", err)
	}
	if stats.Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", stats.Invalidated)
	}

	got, _ := e.DB.GetMemory(derived.ID)
	if got.Confidence != 0 {
		t.Errorf("invalidated confidence = %f, want 0", got.Confidence)
	}
	if got.ForgottenAt == nil {
		t.Error("invalidated derivation should be soft-deleted")
	}
}

func TestRunHardDeleteTick(t *testing.T) {
	e := testEngine(t, nil, nil)

	old := &store.Memory{Content: "long forgotten", MemoryType: store.TypeFact, ContainerTag: "c"}
	recent := &store.Memory{Content: "just forgotten", MemoryType: store.TypeFact, ContainerTag: "c"}
	e.DB.CreateMemory(old)
	e.DB.CreateMemory(recent)
	e.DB.MarkForgotten(old.ID, daysAgo(retentionDays+1))
	e.DB.MarkForgotten(recent.ID, daysAgo(1))

	n, err := e.RunHardDeleteTick(context.Background())
	if err != nil {
		t.Fatalf("RunHardDeleteTick: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
