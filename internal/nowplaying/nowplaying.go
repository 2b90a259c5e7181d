// Package nowplaying exposes the system media session through a helper process.
package nowplaying

import (
	"fmt"

	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/helper"
)

// Name is the provider name widgets reference.
const Name = "now_playing"

// Status is one line emitted by the now-playing helper.
type Status struct {
	Playing  bool    `json:"playing"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	App      string  `json:"app,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Position float64 `json:"position,omitempty"`
	Artwork  string  `json:"artwork,omitempty"`
}

// Client supervises the now-playing helper.
type Client struct {
	*helper.Supervisor
}

// New creates a now-playing client. The helper starts on first fetch.
func New(cfg config.HelperConfig, opts ...helper.Option) *Client {
	spec := helper.SpecFromConfig(Name, cfg, helper.DecodeAs[Status]())
	return &Client{Supervisor: helper.New(spec, opts...)}
}

type seekCommand struct {
	Cmd      string  `json:"cmd"`
	Position float64 `json:"position"`
}

// Seek moves playback to position seconds. The next status line reflects the result.
func (c *Client) Seek(position float64) error {
	if position < 0 {
		return fmt.Errorf("seek position must be non-negative, got %v", position)
	}
	return c.Send(seekCommand{Cmd: "seek", Position: position})
}
