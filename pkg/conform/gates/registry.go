// Package gates provides the six trust-chain gates and a default registry.
package gates

import (
	"fmt"

	"github.com/Mindburn-Labs/trustchain/pkg/certification"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/replay"
)

// Config carries the gate settings that are not part of the run context.
type Config struct {
	ReplayCache        replay.HashCache
	CELCostLimit       uint64
	RequireCertificate bool
	Certifier          *certification.Certifier
}

// All returns G0..G5 configured from cfg, in execution order.
func All(cfg Config) []conform.Gate {
	return []conform.Gate{
		&G0BaselineFound{},
		&G1ManifestValid{},
		&G2MerkleValid{},
		&G3ReplayIdentical{Cache: cfg.ReplayCache},
		&G4ThresholdsMet{CostLimit: cfg.CELCostLimit},
		&G5Certified{Required: cfg.RequireCertificate, Certifier: cfg.Certifier},
	}
}

// DefaultEngine returns an engine pre-loaded with G0..G5 in canonical
// order. This is the standard way to create an engine for CLI or CI usage.
func DefaultEngine(cfg Config) *conform.Engine {
	e := conform.NewEngine()
	for _, g := range All(cfg) {
		if err := e.RegisterGate(g); err != nil {
			panic(fmt.Sprintf("gates: default registry out of order: %v", err))
		}
	}
	return e
}
