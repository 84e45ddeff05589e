package viewer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewerhost/internal/channel"
	"viewerhost/internal/messaging"
)

func setup(t *testing.T) (*Client, *Peer) {
	t.Helper()
	bus := messaging.NewMemoryBus()
	frame := channel.NewFrame(bus, "zea-svelte-app")

	peer := NewPeer(frame, nil)
	require.NoError(t, peer.Start())

	m, err := channel.New(frame)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.Close()
		_ = peer.Close()
		_ = bus.Close()
	})
	return NewClient(m), peer
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestLoadCADFile(t *testing.T) {
	client, peer := setup(t)

	var res LoadCADFileResult
	require.NoError(t, client.LoadCADFile("http://localhost:5000/data/gear_box_final_asm.zcad").Decode(ctx(t), &res))

	assert.Equal(t, "gear_box_final_asm", res.ModelStructure.Name)
	assert.Len(t, res.ModelStructure.Children, 2)
	require.NotNil(t, peer.Scene().Model)
	assert.Equal(t, "gear_box_final_asm", peer.Scene().Model.Name)

	var again LoadCADFileResult
	require.NoError(t, client.GetModelStructure().Decode(ctx(t), &again))
	assert.Equal(t, res, again)
}

func TestSettersUpdateScene(t *testing.T) {
	client, peer := setup(t)

	for _, f := range []*channel.Future{
		client.SetBackgroundColor("#101010"),
		client.SetHighlightColor("#ff0000"),
		client.SetRenderMode("wireframe"),
		client.SetCameraManipulationMode("turntable"),
	} {
		_, err := f.Wait(ctx(t))
		require.NoError(t, err)
	}

	scene := peer.Scene()
	assert.Equal(t, "#101010", scene.BackgroundColor)
	assert.Equal(t, "#ff0000", scene.HighlightColor)
	assert.Equal(t, "wireframe", scene.RenderMode)
	assert.Equal(t, "turntable", scene.CameraMode)
}

func TestPeerAnswersErrors(t *testing.T) {
	client, _ := setup(t)

	var res map[string]string
	require.NoError(t, client.LoadCADFile("").Decode(ctx(t), &res))
	assert.Equal(t, "url is required", res["error"])

	res = nil
	require.NoError(t, client.Messenger().Do("explode", nil).Decode(ctx(t), &res))
	assert.Equal(t, "unknown command explode", res["error"])
}

func TestEvents(t *testing.T) {
	client, peer := setup(t)

	ready := make(chan struct{}, 1)
	selections := make(chan SelectionChanged, 1)
	client.OnReady(func(json.RawMessage) { ready <- struct{}{} })
	client.OnSelectionChanged(func(payload json.RawMessage) {
		var sel SelectionChanged
		if err := json.Unmarshal(payload, &sel); err == nil {
			selections <- sel
		}
	})

	require.NoError(t, peer.Ready())
	require.NoError(t, peer.Select([]string{"gear_box_final_asm", "Body"}))

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready not delivered")
	}
	select {
	case sel := <-selections:
		assert.Equal(t, [][]string{{"gear_box_final_asm", "Body"}}, sel.Selection)
	case <-time.After(2 * time.Second):
		t.Fatal("selectionChanged not delivered")
	}
}

func TestCustomHandler(t *testing.T) {
	client, peer := setup(t)
	peer.Handle(CmdGetModelStructure, func(json.RawMessage) (interface{}, error) {
		return map[string]int{"nodes": 7}, nil
	})

	var res map[string]int
	require.NoError(t, client.GetModelStructure().Decode(ctx(t), &res))
	assert.Equal(t, 7, res["nodes"])
}

func TestModelFromURL(t *testing.T) {
	assert.Equal(t, "HC_SRO4", modelFromURL("/data/HC_SRO4.zcad").Name)
	assert.Equal(t, "Fidget-Spinner-2", modelFromURL("https://example.com/data/Fidget-Spinner-2.zcad?v=1").Name)
	assert.Equal(t, "model", modelFromURL("/").Name)
}
