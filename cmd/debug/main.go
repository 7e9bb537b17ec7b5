package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/policy"
	"github.com/parcelkit/address-verifier-go/internal/types"
	"github.com/parcelkit/address-verifier-go/internal/verifier"
)

var (
	dataPath   string
	policyPath string
)

func init() {
	flag.StringVar(&dataPath, "data", "", "path to JSON file with test addresses")
	flag.StringVar(&policyPath, "policy", "", "override path to Rego policy file")
	flag.Parse()
}

func newDebugConfig() (*config.Config, error) {
	envpath := filepath.Join("..", "..", ".env")
	if _, err := os.Stat(envpath); err == nil {
		_ = godotenv.Load(envpath)
	}

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	cfg.DebugMode = true

	if cfg.DebugDataPath == "" {
		cfg.DebugDataPath = filepath.Join("..", "..", "fixtures", "debug-addresses.json")
	}
	if dataPath != "" {
		cfg.DebugDataPath = dataPath
	}
	if policyPath != "" {
		cfg.AppPolicyPath = policyPath
	}

	return cfg, nil
}

type debugCase struct {
	Label   string        `json:"label"`
	Address types.Address `json:"address"`
}

func main() {
	cfg, err := newDebugConfig()
	if err != nil {
		log.Fatal("failed to load debug config", "error", err)
	}
	log.SetLevel(log.DebugLevel)

	ctx := context.Background()
	chain := verifier.ChainFromConfig(cfg, nil)

	var engine *policy.Engine
	if cfg.AppPolicyPath != "" {
		engine, err = policy.Load(ctx, cfg.AppPolicyPath)
		if err != nil {
			log.Fatal("failed to load policy", "path", cfg.AppPolicyPath, "error", err)
		}
	}

	data, err := os.ReadFile(cfg.DebugDataPath)
	if err != nil {
		log.Fatal("failed to read data file", "path", cfg.DebugDataPath, "error", err)
	}

	var cases []debugCase
	if err := json.Unmarshal(data, &cases); err != nil {
		log.Fatal("failed to parse data file", "error", err)
	}

	for i, c := range cases {
		outcome := chain.Verify(ctx, c.Address)
		log.Info("verified",
			"index", i,
			"label", c.Label,
			"status", outcome.Status,
			"tier", outcome.Tier,
			"flags", outcome.Flags,
			"message", outcome.Message,
		)
		if engine != nil {
			decision, err := engine.Evaluate(ctx, policy.Input{
				Address: c.Address.Normalized(),
				Status:  outcome.Status,
				Flags:   outcome.Flags,
			})
			if err != nil {
				log.Error("policy evaluation failed", "index", i, "error", err)
				continue
			}
			log.Info("policy decision", "index", i, "action", decision.Action, "reason", decision.Reason)
		}
	}
}
