package session

import "inferd/pkg/types"

// SamplerStageKind identifies one token-selection stage.
type SamplerStageKind string

const (
	StagePenalties SamplerStageKind = "penalties"
	StageGreedy    SamplerStageKind = "greedy"
	StageTopK      SamplerStageKind = "top_k"
	StageTypical   SamplerStageKind = "typical"
	StageTopP      SamplerStageKind = "top_p"
	StageMinP      SamplerStageKind = "min_p"
	StageTemp      SamplerStageKind = "temperature"
	StageDist      SamplerStageKind = "dist"
)

// SamplerStage is one configured stage of a sampler chain.
type SamplerStage struct {
	Kind SamplerStageKind

	// Penalties
	RepeatLastN      int32
	RepeatPenalty    float32
	FrequencyPenalty float32
	PresencePenalty  float32

	// Truncation / temperature
	K    int32
	P    float32
	Temp float32
}

// SamplerChain is the ordered stage list handed to Engine.NewSampler.
type SamplerChain []SamplerStage

// buildSamplerChain maps sampling parameters onto an ordered stage chain.
// A repeat penalty other than 1.0 prepends a penalties stage. Near-zero
// temperature short-circuits to greedy selection; otherwise the chain is
// top-k, typical, top-p, min-p (each only when active), temperature, and a
// final stochastic draw.
func buildSamplerChain(p types.SamplingParams) SamplerChain {
	var chain SamplerChain

	if p.RepeatPenalty != 1.0 {
		chain = append(chain, SamplerStage{
			Kind:             StagePenalties,
			RepeatLastN:      p.RepeatLastN,
			RepeatPenalty:    p.RepeatPenalty,
			FrequencyPenalty: p.FrequencyPenalty,
			PresencePenalty:  p.PresencePenalty,
		})
	}

	if p.Temperature <= 0.01 {
		return append(chain, SamplerStage{Kind: StageGreedy})
	}

	if p.TopK > 0 {
		chain = append(chain, SamplerStage{Kind: StageTopK, K: p.TopK})
	}
	if p.TypicalP > 0 && p.TypicalP < 1 {
		chain = append(chain, SamplerStage{Kind: StageTypical, P: p.TypicalP})
	}
	if p.TopP > 0 && p.TopP < 1 {
		chain = append(chain, SamplerStage{Kind: StageTopP, P: p.TopP})
	}
	if p.MinP > 0 {
		chain = append(chain, SamplerStage{Kind: StageMinP, P: p.MinP})
	}
	chain = append(chain, SamplerStage{Kind: StageTemp, Temp: p.Temperature})
	return append(chain, SamplerStage{Kind: StageDist})
}
