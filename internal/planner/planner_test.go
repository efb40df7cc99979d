package planner

import (
	"errors"
	"slices"
	"testing"
)

func TestPlan720pSource(t *testing.T) {
	plan, err := Plan(1280, 720)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := plan.Names(); !slices.Equal(got, []string{"720p", "480p", "360p"}) {
		t.Fatalf("unexpected tiers %v", got)
	}
	if plan.Tiers[1].Width != 854 || plan.Tiers[1].Height != 480 {
		t.Fatalf("unexpected 480p size %s", plan.Tiers[1].Resolution())
	}
	if plan.Lowest().Name != "360p" || !plan.IsLowest("360p") || plan.IsLowest("720p") {
		t.Fatalf("unexpected lowest tier %+v", plan.Lowest())
	}
}

func TestPlanNeverUpscales(t *testing.T) {
	sizes := [][2]int{
		{3840, 2160}, {1920, 1080}, {1920, 800}, {1440, 1080}, {1280, 720}, {1080, 1920},
		{960, 540}, {854, 480}, {720, 576}, {640, 360}, {640, 480}, {426, 240}, {176, 144}, {2, 2}, {7, 3},
	}
	for _, size := range sizes {
		plan, err := Plan(size[0], size[1])
		if err != nil {
			t.Fatalf("Plan(%v): %v", size, err)
		}
		if len(plan.Tiers) == 0 {
			t.Fatalf("Plan(%v) returned no tiers", size)
		}
		for i, tier := range plan.Tiers {
			if tier.Height > size[1] {
				t.Fatalf("Plan(%v) tier %s height %d exceeds source", size, tier.Name, tier.Height)
			}
			if tier.Width > size[0] {
				t.Fatalf("Plan(%v) tier %s width %d exceeds source", size, tier.Name, tier.Width)
			}
			if tier.Width%2 != 0 || tier.Height%2 != 0 {
				t.Fatalf("Plan(%v) tier %s has odd size %s", size, tier.Name, tier.Resolution())
			}
			if i > 0 && tier.Height >= plan.Tiers[i-1].Height {
				t.Fatalf("Plan(%v) tiers not descending: %v", size, plan.Names())
			}
		}
	}
}

func TestPlanFullHDIncludesAllPresets(t *testing.T) {
	plan, err := Plan(1920, 1080)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := plan.Names(); !slices.Equal(got, []string{"1080p", "720p", "480p", "360p"}) {
		t.Fatalf("unexpected tiers %v", got)
	}
	if plan.Tiers[0].Profile != "high" || plan.Lowest().Profile != "baseline" {
		t.Fatalf("unexpected profiles %+v", plan.Tiers)
	}
}

func TestPlanTinySourceClampsLowestPreset(t *testing.T) {
	plan, err := Plan(320, 240)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Tiers) != 1 {
		t.Fatalf("expected one tier, got %v", plan.Names())
	}
	tier := plan.Tiers[0]
	if tier.Name != "360p" || tier.Height != 240 || tier.Width != 320 {
		t.Fatalf("unexpected clamped tier %+v", tier)
	}
}

func TestPlanFollowsAspectRatio(t *testing.T) {
	plan, err := Plan(1920, 800)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := plan.Names(); !slices.Equal(got, []string{"720p", "480p", "360p"}) {
		t.Fatalf("unexpected tiers %v", got)
	}
	if plan.Tiers[0].Width != 1728 {
		t.Fatalf("expected 1728 wide 720p for 2.4:1 source, got %d", plan.Tiers[0].Width)
	}
}

func TestPlanRejectsInvalidSource(t *testing.T) {
	for _, dims := range [][2]int{{0, 720}, {1280, 0}, {1280, 1}, {1, 720}} {
		if _, err := Plan(dims[0], dims[1]); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("Plan(%dx%d): expected ErrInvalidSource, got %v", dims[0], dims[1], err)
		}
	}
}

func TestPlanTinySourceNeverUpscales(t *testing.T) {
	for _, dims := range [][2]int{{2, 2}, {3, 3}, {4, 1080}, {1920, 2}} {
		plan, err := Plan(dims[0], dims[1])
		if err != nil {
			t.Fatalf("Plan(%dx%d): %v", dims[0], dims[1], err)
		}
		for _, tier := range plan.Tiers {
			if tier.Width > dims[0] || tier.Height > dims[1] {
				t.Fatalf("Plan(%dx%d) tier %s is %s", dims[0], dims[1], tier.Name, tier.Resolution())
			}
		}
	}
}

func TestPresetsReturnsCopy(t *testing.T) {
	p := Presets()
	p[0].Name = "mutated"
	if Presets()[0].Name != "1080p" {
		t.Fatal("preset catalog should not be mutable through Presets")
	}
}
