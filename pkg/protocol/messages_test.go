// ABOUTME: Tests for protocol message types
// ABOUTME: Verifies envelope encoding and command validation
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeWireFormat(t *testing.T) {
	vol := 0.5
	msg, err := NewMessage(TypeCommand, "42", Command{Layer: LayerBgm, Op: OpPlay, Src: "theme.ogg", Volume: &vol, FadeMs: 1500})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","id":"42","payload":{"layer":"bgm","op":"play","src":"theme.ogg","volume":0.5,"fade_ms":1500}}`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	var cmd Command
	require.NoError(t, decoded.Decode(&cmd))
	assert.Equal(t, "theme.ogg", cmd.Src)
	assert.Equal(t, 1500, cmd.FadeMs)
	require.NotNil(t, cmd.Volume)
	assert.Equal(t, 0.5, *cmd.Volume)
}

func TestDecodeEmptyPayload(t *testing.T) {
	msg, err := NewMessage(TypeResult, "1", nil)
	require.NoError(t, err)
	assert.Error(t, msg.Decode(&Result{}))
}

func TestCommandValidate(t *testing.T) {
	vol := 0.3
	tests := []struct {
		name  string
		cmd   Command
		valid bool
	}{
		{"bgm play", Command{Layer: LayerBgm, Op: OpPlay, Src: "a.ogg"}, true},
		{"bgm play in place", Command{Layer: LayerBgm, Op: OpPlay}, true},
		{"bgm fade", Command{Layer: LayerBgm, Op: OpFade, Volume: &vol}, true},
		{"bgm fade without volume", Command{Layer: LayerBgm, Op: OpFade}, false},
		{"bgm preload without src", Command{Layer: LayerBgm, Op: OpPreload}, false},
		{"sfx play", Command{Layer: LayerSfx, Op: OpPlay, Src: "hit.wav", DelayMs: 200}, true},
		{"sfx play without src", Command{Layer: LayerSfx, Op: OpPlay}, false},
		{"sfx stop", Command{Layer: LayerSfx, Op: OpStop, Target: "hit.wav"}, true},
		{"sfx stop without target", Command{Layer: LayerSfx, Op: OpStop}, false},
		{"sfx pause unsupported", Command{Layer: LayerSfx, Op: OpPause}, false},
		{"voice play", Command{Layer: LayerVoice, Op: OpPlay, Src: "a001.ogg", SpeakerID: "alice"}, true},
		{"voice stop all", Command{Layer: LayerVoice, Op: OpStopAll}, true},
		{"engine destroy", Command{Layer: LayerEngine, Op: OpDestroy}, true},
		{"unknown layer", Command{Layer: "ambience", Op: OpPlay}, false},
		{"negative fade", Command{Layer: LayerBgm, Op: OpStop, FadeMs: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCommand)
			}
		})
	}
}
