package engineconfig

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LatencyProfile != LatencyBalanced {
		t.Fatalf("unexpected default latency profile: %q", cfg.LatencyProfile)
	}
	if cfg.StartPrefillMS() != 25 {
		t.Fatalf("unexpected default start prefill: %d", cfg.StartPrefillMS())
	}
}

func TestLoadRejectsUnknownLatencyProfile(t *testing.T) {
	t.Setenv("GRIMNIR_AUDIOENGINE_LATENCY_PROFILE", "ludicrous")
	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail on an unknown latency profile")
	}
}

func TestLoadRejectsZeroOpenSettle(t *testing.T) {
	t.Setenv("GRIMNIR_AUDIOENGINE_ASIO_OPEN_SETTLE_MS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail when the open-reconfigure settle is zero")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("ASIO_SIDECAR_PATH", "/opt/legacy/sidecar")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestStartPrefillMSByProfile(t *testing.T) {
	cases := map[LatencyProfile]uint32{
		LatencyAggressive:   8,
		LatencyBalanced:     25,
		LatencyConservative: 60,
	}
	for profile, want := range cases {
		cfg := &Config{LatencyProfile: profile}
		if got := cfg.StartPrefillMS(); got != want {
			t.Fatalf("profile %q: got %d, want %d", profile, got, want)
		}
	}
}
