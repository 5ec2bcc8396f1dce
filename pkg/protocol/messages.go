// ABOUTME: Stagesound control protocol message type definitions
// ABOUTME: JSON envelopes for the handshake, commands, results and engine events
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the protocol version sent in both hellos
const Version = 1

// DefaultPath is the WebSocket endpoint served by the daemon
const DefaultPath = "/stagesound"

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeClientGoodbye = "client/goodbye"
	TypeCommand       = "command"
	TypeResult        = "result"
	TypeEvent         = "event"
)

// Command layers
const (
	LayerBgm    = "bgm"
	LayerSfx    = "sfx"
	LayerVoice  = "voice"
	LayerEngine = "engine"
)

// Command operations
const (
	OpPlay    = "play"
	OpStop    = "stop"
	OpPause   = "pause"
	OpResume  = "resume"
	OpFade    = "fade"
	OpSeek    = "seek"
	OpPreload = "preload"
	OpStopAll = "stop_all"
	OpDestroy = "destroy"
)

// ErrInvalidCommand is returned for commands naming an unknown layer or operation
var ErrInvalidCommand = errors.New("protocol: invalid command")

var layerOps = map[string][]string{
	LayerBgm:    {OpPlay, OpStop, OpPause, OpResume, OpFade, OpSeek, OpPreload},
	LayerSfx:    {OpPlay, OpStop, OpStopAll},
	LayerVoice:  {OpPlay, OpStop, OpStopAll},
	LayerEngine: {OpStopAll, OpDestroy},
}

// Message is the top-level wrapper for all protocol messages.
// ID correlates a command with its result.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into an envelope
func NewMessage(msgType, id string, payload any) (Message, error) {
	msg := Message{Type: msgType, ID: id}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains client identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string   `json:"server_id"`
	Name     string   `json:"name"`
	Version  int      `json:"version"`
	Layers   []string `json:"layers"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request"
}

// Command asks the engine to act on one layer
type Command struct {
	Layer     string   `json:"layer"`
	Op        string   `json:"op"`
	Src       string   `json:"src,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Loop      *bool    `json:"loop,omitempty"`
	LoopCount int      `json:"loop_count,omitempty"` // sfx plays in total; -1 loops until stopped
	FadeMs    int      `json:"fade_ms,omitempty"`
	DelayMs   int      `json:"delay_ms,omitempty"`
	SpeakerID string   `json:"speaker_id,omitempty"`
	Interrupt string   `json:"interrupt,omitempty"` // "all", "self", "none"
	SeekMs    int      `json:"seek_ms,omitempty"`
	Target    string   `json:"target,omitempty"` // sfx stop: instance id or source
}

// Validate checks the layer and operation pair
func (c Command) Validate() error {
	ops, ok := layerOps[c.Layer]
	if !ok {
		return fmt.Errorf("%w: unknown layer %q", ErrInvalidCommand, c.Layer)
	}
	for _, op := range ops {
		if op == c.Op {
			return c.validateArgs()
		}
	}
	return fmt.Errorf("%w: layer %s does not support %q", ErrInvalidCommand, c.Layer, c.Op)
}

func (c Command) validateArgs() error {
	switch {
	case c.Op == OpPreload && c.Src == "":
		return fmt.Errorf("%w: preload needs src", ErrInvalidCommand)
	case c.Op == OpPlay && c.Layer != LayerBgm && c.Src == "":
		return fmt.Errorf("%w: %s play needs src", ErrInvalidCommand, c.Layer)
	case c.Op == OpFade && c.Volume == nil:
		return fmt.Errorf("%w: fade needs volume", ErrInvalidCommand)
	case c.Op == OpStop && c.Layer == LayerSfx && c.Target == "":
		return fmt.Errorf("%w: sfx stop needs target", ErrInvalidCommand)
	case c.FadeMs < 0 || c.DelayMs < 0 || c.SeekMs < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidCommand)
	}
	return nil
}

// Result answers a command with the same message id
type Result struct {
	OK         bool   `json:"ok"`
	InstanceID string `json:"instance_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event mirrors an engine event
type Event struct {
	Kind       string `json:"kind"`
	Layer      string `json:"layer"`
	Src        string `json:"src,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	SpeakerID  string `json:"speaker_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}
