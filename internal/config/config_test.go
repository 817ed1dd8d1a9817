package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiterd.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.ListenAddr != def.ListenAddr || cfg.PanelSize != def.PanelSize {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, `{
		"ListenAddr": "0.0.0.0:7000",
		"MinStake": "123456789012345678901234567890",
		"PanelSize": 7
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:7000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.PanelSize != 7 {
		t.Errorf("PanelSize = %d", cfg.PanelSize)
	}
	// Untouched fields keep their defaults.
	if cfg.DisputeFee != Default().DisputeFee {
		t.Errorf("DisputeFee = %q, want default", cfg.DisputeFee)
	}

	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	eng := cfg.Engine()
	if eng.MinStake.Cmp(want) != 0 {
		t.Errorf("Engine().MinStake = %v, want %v", eng.MinStake, want)
	}
	if eng.PanelSize != 7 {
		t.Errorf("Engine().PanelSize = %d", eng.PanelSize)
	}
}

func TestLoad_StripsByteOrderMark(t *testing.T) {
	path := writeFile(t, "\xef\xbb\xbf"+`{"PanelSize": 3}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PanelSize != 3 {
		t.Errorf("PanelSize = %d, want 3", cfg.PanelSize)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad amount", `{"MinStake": "12.5"}`},
		{"negative amount", `{"DisputeFee": "-1"}`},
		{"zero panel", `{"PanelSize": 0}`},
		{"slash over one", `{"SlashNum": 3, "SlashDen": 2}`},
		{"zero cut denominator", `{"TriggerCutNum": 0, "TriggerCutDen": 0}`},
		{"empty operator", `{"Operator": ""}`},
		{"bad mint", `{"Mints": [{"Addr": "a", "Amount": "xyz"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tc.body)); err == nil {
				t.Errorf("Load accepted %s", tc.name)
			}
		})
	}
}
