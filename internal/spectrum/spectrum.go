// Package spectrum streams audio spectrum bands from a helper process.
package spectrum

import (
	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/helper"
)

// Name is the provider name widgets reference.
const Name = "audio_spectrum"

// Frame is one analysis frame. Bands are normalized to [0,1].
type Frame struct {
	Bands []float64 `json:"bands"`
	Peak  float64   `json:"peak"`
}

// New creates the spectrum provider. It has no commands, so the bare supervisor is returned.
func New(cfg config.HelperConfig, opts ...helper.Option) *helper.Supervisor {
	return helper.New(helper.SpecFromConfig(Name, cfg, helper.DecodeAs[Frame]()), opts...)
}
