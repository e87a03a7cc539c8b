package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canfeed/backend/internal/dom"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := Encode(MsgGeometry, GeometryPayload{
		Rects: []GeometryEntry{
			{Index: 3, Rect: dom.Rect{X: 1, Y: 2, Width: 30, Height: 40}},
		},
		ScrollY: 120.5,
	})
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgGeometry, env.Type)

	var payload GeometryPayload
	require.NoError(t, DecodePayload(env, &payload))
	require.Len(t, payload.Rects, 1)
	assert.Equal(t, 3, payload.Rects[0].Index)
	assert.Equal(t, 30.0, payload.Rects[0].Rect.Width)
	assert.Equal(t, 120.5, payload.ScrollY)
}

func TestEncodeWithoutPayload(t *testing.T) {
	raw, err := Encode(MsgDetach, nil)
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgDetach, env.Type)
	assert.Empty(t, env.Data)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecodePayloadRequiresData(t *testing.T) {
	env := &Envelope{Type: MsgFocus}
	var payload FocusPayload
	assert.Error(t, DecodePayload(env, &payload))
}

func TestToAnchors(t *testing.T) {
	got := ToAnchors(AnchorsPayload{Anchors: []AnchorPayload{
		{ID: "a1", Selector: "#hero", RelativeX: 0.25, RelativeY: 0.75, DeviceWidth: 1280},
	}})

	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "#hero", got[0].Selector)
	assert.Equal(t, 0.25, got[0].RelativeX)
	assert.Equal(t, 1280, got[0].DeviceWidth)
}
