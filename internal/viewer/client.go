package viewer

import (
	"encoding/json"

	"viewerhost/internal/channel"
)

// Client is a typed facade over a Messenger for the viewer command set.
// Each call returns the underlying future; payload shapes beyond those the
// host sends are owned by the viewer.
type Client struct {
	m *channel.Messenger
}

func NewClient(m *channel.Messenger) *Client {
	return &Client{m: m}
}

// Messenger exposes the underlying messenger for raw commands.
func (c *Client) Messenger() *channel.Messenger { return c.m }

func (c *Client) LoadCADFile(url string) *channel.Future {
	return c.m.Do(CmdLoadCADFile, LoadCADFileRequest{URL: url})
}

func (c *Client) SetBackgroundColor(color string) *channel.Future {
	return c.m.Do(CmdSetBackgroundColor, ColorRequest{Color: color})
}

func (c *Client) SetHighlightColor(color string) *channel.Future {
	return c.m.Do(CmdSetHighlightColor, ColorRequest{Color: color})
}

func (c *Client) SetRenderMode(mode string) *channel.Future {
	return c.m.Do(CmdSetRenderMode, ModeRequest{Mode: mode})
}

func (c *Client) SetCameraManipulationMode(mode string) *channel.Future {
	return c.m.Do(CmdSetCameraManipulationMode, ModeRequest{Mode: mode})
}

func (c *Client) GetModelStructure() *channel.Future {
	return c.m.Do(CmdGetModelStructure, nil)
}

// OnReady fires when the viewer finished initialising.
func (c *Client) OnReady(fn func(payload json.RawMessage)) *channel.Subscription {
	return c.m.On(EventReady, fn)
}

// OnSelectionChanged fires when the in-viewer selection changes.
func (c *Client) OnSelectionChanged(fn func(payload json.RawMessage)) *channel.Subscription {
	return c.m.On(EventSelectionChanged, fn)
}
