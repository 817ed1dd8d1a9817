// Package config loads the daemon's settings from a JSON file, layering the
// file over built-in defaults so a minimal file only names what it changes.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/ruling"
	"github.com/beenest/arbiterd/internal/types"
)

// DefaultConfigFilename is used when no -config flag is given.
const DefaultConfigFilename = "./arbiterd.json"

// Mint seeds a token balance at startup. Only used by the standalone ledger;
// a deployment backed by a real token bridge leaves this empty.
type Mint struct {
	Addr   string `json:"Addr"`
	Amount string `json:"Amount"`
}

// Config is the daemon's JSON-file configuration. Token amounts are decimal
// strings so they survive arbitrary magnitudes; durations are seconds.
type Config struct {
	ListenAddr  string `json:"ListenAddr"`
	MetricsAddr string `json:"MetricsAddr"`
	DBPath      string `json:"DBPath"`
	PrintLevel  string `json:"PrintLevel"`

	Operator string `json:"Operator"`
	Custody  string `json:"Custody"`

	MinStake   string `json:"MinStake"`
	DisputeFee string `json:"DisputeFee"`
	VoteReward string `json:"VoteReward"`

	PanelSize    int   `json:"PanelSize"`
	MaxVoteValue uint8 `json:"MaxVoteValue"`

	MinVoteDelay int64 `json:"MinVoteDelay"`
	VoteWindow   int64 `json:"VoteWindow"`
	AppealWindow int64 `json:"AppealWindow"`

	SlashNum int64 `json:"SlashNum"`
	SlashDen int64 `json:"SlashDen"`

	TriggerCutNum int64 `json:"TriggerCutNum"`
	TriggerCutDen int64 `json:"TriggerCutDen"`

	Mints []Mint `json:"Mints"`
}

// Default returns the built-in configuration.
func Default() *Config {
	base := arbitration.DefaultConfig()
	return &Config{
		ListenAddr:    "127.0.0.1:9567",
		MetricsAddr:   "127.0.0.1:9568",
		DBPath:        "./arbiterd.db",
		PrintLevel:    "info",
		Operator:      "operator",
		Custody:       "arbiterd",
		MinStake:      base.MinStake.String(),
		DisputeFee:    base.DisputeFee.String(),
		VoteReward:    base.Policy.VoteReward.String(),
		PanelSize:     base.PanelSize,
		MaxVoteValue:  base.Policy.MaxVoteValue,
		MinVoteDelay:  base.MinVoteDelay,
		VoteWindow:    base.VoteWindow,
		AppealWindow:  base.AppealWindow,
		SlashNum:      base.SlashNum,
		SlashDen:      base.SlashDen,
		TriggerCutNum: base.Policy.TriggerCutNum,
		TriggerCutDen: base.Policy.TriggerCutDen,
	}
}

// Load reads path and overlays it on the defaults. A missing file is not an
// error: the defaults are returned so the daemon can run out of the box.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Strip a UTF-8 byte order mark if an editor left one.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, field := range []struct {
		name, val string
	}{
		{"MinStake", c.MinStake},
		{"DisputeFee", c.DisputeFee},
		{"VoteReward", c.VoteReward},
	} {
		n, ok := new(big.Int).SetString(field.val, 10)
		if !ok || n.Sign() < 0 {
			return fmt.Errorf("config: %s: bad amount %q", field.name, field.val)
		}
	}
	for i, m := range c.Mints {
		if _, ok := new(big.Int).SetString(m.Amount, 10); !ok {
			return fmt.Errorf("config: Mints[%d]: bad amount %q", i, m.Amount)
		}
	}
	if c.PanelSize < 1 {
		return fmt.Errorf("config: PanelSize must be at least 1")
	}
	if c.SlashDen < 1 || c.SlashNum < 0 || c.SlashNum > c.SlashDen {
		return fmt.Errorf("config: slash fraction %d/%d out of range", c.SlashNum, c.SlashDen)
	}
	if c.TriggerCutDen < 1 || c.TriggerCutNum < 0 || c.TriggerCutNum > c.TriggerCutDen {
		return fmt.Errorf("config: trigger cut %d/%d out of range", c.TriggerCutNum, c.TriggerCutDen)
	}
	if c.Operator == "" {
		return fmt.Errorf("config: Operator must be set")
	}
	return nil
}

// Engine translates the file form into the engine's parameters. validate has
// already vetted every amount string.
func (c *Config) Engine() arbitration.Config {
	num := func(s string) *big.Int {
		n, _ := new(big.Int).SetString(s, 10)
		return n
	}
	return arbitration.Config{
		Operator:     types.Address(c.Operator),
		Custody:      types.Address(c.Custody),
		MinStake:     num(c.MinStake),
		DisputeFee:   num(c.DisputeFee),
		PanelSize:    c.PanelSize,
		MinVoteDelay: c.MinVoteDelay,
		VoteWindow:   c.VoteWindow,
		AppealWindow: c.AppealWindow,
		SlashNum:     c.SlashNum,
		SlashDen:     c.SlashDen,
		Policy: ruling.Policy{
			MaxVoteValue:  c.MaxVoteValue,
			VoteReward:    num(c.VoteReward),
			TriggerCutNum: c.TriggerCutNum,
			TriggerCutDen: c.TriggerCutDen,
		},
	}
}
