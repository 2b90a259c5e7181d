package discord

import (
	"encoding/json"
	"fmt"
	"slices"
)

// User is the identity of the logged-in desktop user or a channel member.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
}

// VoiceSettings mirrors the client's local voice settings.
type VoiceSettings struct {
	Mute         bool    `json:"mute"`
	Deaf         bool    `json:"deaf"`
	Mode         *Mode   `json:"mode,omitempty"`
	InputVolume  float64 `json:"inputVolume,omitempty"`
	OutputVolume float64 `json:"outputVolume,omitempty"`
}

// Mode is the voice activation mode.
type Mode struct {
	Type string `json:"type"`
}

// VoiceChannel is the currently selected voice channel.
type VoiceChannel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GuildID string `json:"guildId,omitempty"`
}

// VoiceMember is one user in the selected voice channel.
type VoiceMember struct {
	User     User   `json:"user"`
	Nick     string `json:"nick,omitempty"`
	Mute     bool   `json:"mute"`
	Deaf     bool   `json:"deaf"`
	SelfMute bool   `json:"selfMute"`
	SelfDeaf bool   `json:"selfDeaf"`
}

// Activity is the rich presence the client last set.
type Activity struct {
	Name    string `json:"name,omitempty"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
}

// Presence is the snapshot accumulated from IPC events. A nil field is
// unknown. VoiceMembers is nil while unknown and empty when the user is in no
// channel.
type Presence struct {
	User          *User          `json:"user"`
	VoiceSettings *VoiceSettings `json:"voiceSettings"`
	VoiceChannel  *VoiceChannel  `json:"voiceChannel"`
	VoiceMembers  []VoiceMember  `json:"voiceMembers"`
	Activity      *Activity      `json:"activity"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Presence) Clone() Presence {
	out := p
	if p.User != nil {
		u := *p.User
		out.User = &u
	}
	if p.VoiceSettings != nil {
		vs := *p.VoiceSettings
		if vs.Mode != nil {
			m := *vs.Mode
			vs.Mode = &m
		}
		out.VoiceSettings = &vs
	}
	if p.VoiceChannel != nil {
		c := *p.VoiceChannel
		out.VoiceChannel = &c
	}
	if p.VoiceMembers != nil {
		out.VoiceMembers = slices.Clone(p.VoiceMembers)
	}
	if p.Activity != nil {
		a := *p.Activity
		out.Activity = &a
	}
	return out
}

// Event and command names folded into the presence.
const (
	EvtReady              = "READY"
	EvtError              = "ERROR"
	EvtVoiceSettings      = "VOICE_SETTINGS_UPDATE"
	EvtVoiceChannelSelect = "VOICE_CHANNEL_SELECT"
	EvtVoiceStateCreate   = "VOICE_STATE_CREATE"
	EvtVoiceStateUpdate   = "VOICE_STATE_UPDATE"
	EvtVoiceStateDelete   = "VOICE_STATE_DELETE"
	EvtActivityUpdate     = "ACTIVITY_UPDATE"

	CmdDispatch                = "DISPATCH"
	CmdAuthenticate            = "AUTHENTICATE"
	CmdSubscribe               = "SUBSCRIBE"
	CmdUnsubscribe             = "UNSUBSCRIBE"
	CmdGetVoiceSettings        = "GET_VOICE_SETTINGS"
	CmdSetVoiceSettings        = "SET_VOICE_SETTINGS"
	CmdGetSelectedVoiceChannel = "GET_SELECTED_VOICE_CHANNEL"
	CmdGetChannel              = "GET_CHANNEL"
	CmdSetActivity             = "SET_ACTIVITY"
)

type readyData struct {
	User *User `json:"user"`
}

type authenticateData struct {
	User *User `json:"user"`
}

type channelSelectData struct {
	ChannelID *string `json:"channel_id"`
	GuildID   *string `json:"guild_id"`
}

type channelData struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	GuildID     string       `json:"guild_id"`
	VoiceStates []voiceState `json:"voice_states"`
}

type voiceState struct {
	Nick       string `json:"nick"`
	Mute       bool   `json:"mute"`
	User       User   `json:"user"`
	VoiceState struct {
		Mute     bool `json:"mute"`
		Deaf     bool `json:"deaf"`
		SelfMute bool `json:"self_mute"`
		SelfDeaf bool `json:"self_deaf"`
	} `json:"voice_state"`
}

func (v voiceState) member() VoiceMember {
	return VoiceMember{
		User:     v.User,
		Nick:     v.Nick,
		Mute:     v.VoiceState.Mute || v.Mute,
		Deaf:     v.VoiceState.Deaf,
		SelfMute: v.VoiceState.SelfMute,
		SelfDeaf: v.VoiceState.SelfDeaf,
	}
}

type wireVoiceSettings struct {
	Mute   *bool `json:"mute"`
	Deaf   *bool `json:"deaf"`
	Mode   *Mode `json:"mode"`
	Input  *struct {
		Volume *float64 `json:"volume"`
	} `json:"input"`
	Output *struct {
		Volume *float64 `json:"volume"`
	} `json:"output"`
}

// Reduce folds one event or command response into p and returns the new
// snapshot. Only the fields the message describes change. When a channel is
// selected, fetchChannel is the id whose full details must be requested,
// because the select event does not carry membership. Unknown names leave p
// unchanged.
func Reduce(p Presence, name string, data json.RawMessage) (next Presence, fetchChannel string, err error) {
	next = p.Clone()

	switch name {
	case EvtReady:
		var d readyData
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		if d.User != nil {
			next.User = d.User
		}

	case CmdAuthenticate:
		var d authenticateData
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		if d.User != nil {
			next.User = d.User
		}

	case EvtVoiceSettings, CmdGetVoiceSettings, CmdSetVoiceSettings:
		var d wireVoiceSettings
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		vs := VoiceSettings{}
		if next.VoiceSettings != nil {
			vs = *next.VoiceSettings
		}
		if d.Mute != nil {
			vs.Mute = *d.Mute
		}
		if d.Deaf != nil {
			vs.Deaf = *d.Deaf
		}
		if d.Mode != nil {
			vs.Mode = d.Mode
		}
		if d.Input != nil && d.Input.Volume != nil {
			vs.InputVolume = *d.Input.Volume
		}
		if d.Output != nil && d.Output.Volume != nil {
			vs.OutputVolume = *d.Output.Volume
		}
		next.VoiceSettings = &vs

	case EvtVoiceChannelSelect:
		var d channelSelectData
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		if d.ChannelID == nil || *d.ChannelID == "" {
			next.VoiceChannel = nil
			next.VoiceMembers = []VoiceMember{}
			return next, "", nil
		}
		return next, *d.ChannelID, nil

	case CmdGetSelectedVoiceChannel, CmdGetChannel:
		if isNull(data) {
			next.VoiceChannel = nil
			next.VoiceMembers = []VoiceMember{}
			return next, "", nil
		}
		var d channelData
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		next.VoiceChannel = &VoiceChannel{ID: d.ID, Name: d.Name, GuildID: d.GuildID}
		next.VoiceMembers = make([]VoiceMember, 0, len(d.VoiceStates))
		for _, vs := range d.VoiceStates {
			next.VoiceMembers = append(next.VoiceMembers, vs.member())
		}

	case EvtVoiceStateCreate, EvtVoiceStateUpdate:
		var d voiceState
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		m := d.member()
		i := slices.IndexFunc(next.VoiceMembers, func(v VoiceMember) bool { return v.User.ID == m.User.ID })
		if i >= 0 {
			next.VoiceMembers[i] = m
		} else {
			next.VoiceMembers = append(next.VoiceMembers, m)
		}

	case EvtVoiceStateDelete:
		var d voiceState
		if err := unmarshal(name, data, &d); err != nil {
			return p, "", err
		}
		if next.VoiceMembers != nil {
			next.VoiceMembers = slices.DeleteFunc(next.VoiceMembers, func(v VoiceMember) bool { return v.User.ID == d.User.ID })
		}

	case EvtActivityUpdate, CmdSetActivity:
		if isNull(data) {
			next.Activity = nil
			return next, "", nil
		}
		var a Activity
		if err := unmarshal(name, data, &a); err != nil {
			return p, "", err
		}
		next.Activity = &a
	}

	return next, "", nil
}

func unmarshal(name string, data json.RawMessage, v any) error {
	if len(data) == 0 || isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
