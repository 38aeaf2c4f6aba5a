package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestAlgorithmCodesBitExact(t *testing.T) {
	cases := []struct {
		algo Algorithm
		code uint32
	}{
		{AlgorithmXpress4k, 0},
		{AlgorithmLzx, 1},
		{AlgorithmXpress8k, 2},
		{AlgorithmXpress16k, 3},
	}
	for _, c := range cases {
		code, ok := c.algo.Code()
		if !ok || code != c.code {
			t.Fatalf("%s: expected code %d, got %d (ok=%v)", c.algo, c.code, code, ok)
		}
		back, ok := AlgorithmFromCode(c.code)
		if !ok || back != c.algo {
			t.Fatalf("code %d: expected algorithm %s, got %s (ok=%v)", c.code, c.algo, back, ok)
		}
	}
}

func TestInvalidAlgorithmRejected(t *testing.T) {
	cfg := Default()
	cfg.Algorithm = "not-a-real-algorithm"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unrecognised algorithm")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.ExtensionDenylist[0] = "mutated"
	if cfg.ExtensionDenylist[0] == "mutated" {
		t.Fatal("clone should not alias the original slice")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("COMPACTD_ALGORITHM", "lzx")
	t.Setenv("COMPACTD_MIN_SIZE", "4096")
	cfg := Default()
	applyEnvOverlay(cfg)
	if cfg.Algorithm != AlgorithmLzx {
		t.Fatalf("expected lzx, got %s", cfg.Algorithm)
	}
	if cfg.MinSize != 4096 {
		t.Fatalf("expected 4096, got %d", cfg.MinSize)
	}
}
