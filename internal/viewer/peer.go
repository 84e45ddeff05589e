package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"viewerhost/internal/channel"
	"viewerhost/internal/logging"
)

// CommandHandler answers one command. The returned value becomes the
// response payload; an error is answered as {"error": "..."}.
type CommandHandler func(payload json.RawMessage) (interface{}, error)

// Scene is the state the simulated viewer keeps between commands.
type Scene struct {
	BackgroundColor string
	HighlightColor  string
	RenderMode      string
	CameraMode      string
	Model           *ModelNode
	Selection       [][]string
}

// Peer simulates the embedded viewer on the far side of a frame. It stands
// in for the real viewer in tests and in cmd/mock-viewer.
type Peer struct {
	frame channel.Frame
	log   logging.Logger

	mu       sync.Mutex
	handlers map[string]CommandHandler
	scene    Scene
	sub      io.Closer
}

func NewPeer(frame channel.Frame, logger logging.Logger) *Peer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Peer{
		frame:    frame,
		log:      logger,
		handlers: make(map[string]CommandHandler),
	}
	p.Handle(CmdLoadCADFile, p.loadCADFile)
	p.Handle(CmdSetBackgroundColor, p.setColor(func(s *Scene, c string) { s.BackgroundColor = c }))
	p.Handle(CmdSetHighlightColor, p.setColor(func(s *Scene, c string) { s.HighlightColor = c }))
	p.Handle(CmdSetRenderMode, p.setMode(func(s *Scene, m string) { s.RenderMode = m }))
	p.Handle(CmdSetCameraManipulationMode, p.setMode(func(s *Scene, m string) { s.CameraMode = m }))
	p.Handle(CmdGetModelStructure, p.getModelStructure)
	return p
}

// Start begins serving requests from the frame's inbound subject.
func (p *Peer) Start() error {
	sub, err := p.frame.Bus.Subscribe(p.frame.Inbound, p.serve)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.frame.Inbound, err)
	}
	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
	return nil
}

// Handle installs or replaces the handler for command.
func (p *Peer) Handle(command string, h CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[command] = h
}

// Emit pushes an unsolicited event to the host.
func (p *Peer) Emit(event string, payload interface{}) error {
	raw, err := channel.EncodePayload(payload)
	if err != nil {
		return err
	}
	data, err := channel.Message{Type: channel.TypeEvent, Name: event, Payload: raw}.Encode()
	if err != nil {
		return err
	}
	return p.frame.Bus.Publish(p.frame.Outbound, data)
}

// Ready announces that the viewer finished initialising.
func (p *Peer) Ready() error { return p.Emit(EventReady, nil) }

// Select replaces the selection and emits selectionChanged.
func (p *Peer) Select(paths ...[]string) error {
	p.mu.Lock()
	p.scene.Selection = paths
	p.mu.Unlock()
	if paths == nil {
		paths = [][]string{}
	}
	return p.Emit(EventSelectionChanged, SelectionChanged{Selection: paths})
}

// Scene returns a copy of the current scene state.
func (p *Peer) Scene() Scene {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scene
}

func (p *Peer) Close() error {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (p *Peer) serve(data []byte) {
	msg, err := channel.DecodeMessage(data)
	if err != nil {
		p.log.Debugf("Peer dropped malformed message: %v", err)
		return
	}
	if msg.Type != channel.TypeRequest {
		return
	}

	p.mu.Lock()
	h, ok := p.handlers[msg.Name]
	p.mu.Unlock()

	var result interface{}
	if !ok {
		result = errorPayload{Error: "unknown command " + msg.Name}
	} else if res, err := h(msg.Payload); err != nil {
		result = errorPayload{Error: err.Error()}
	} else {
		result = res
	}

	if err := p.respond(msg, result); err != nil {
		p.log.Warnf("Peer failed to answer %s (id=%s): %v", msg.Name, msg.ID, err)
	}
}

type errorPayload struct {
	Error string `json:"error"`
}

func (p *Peer) respond(req channel.Message, result interface{}) error {
	raw, err := channel.EncodePayload(result)
	if err != nil {
		raw, _ = channel.EncodePayload(errorPayload{Error: err.Error()})
	}
	data, err := channel.Message{Type: channel.TypeResponse, ID: req.ID, Name: req.Name, Payload: raw}.Encode()
	if err != nil {
		return err
	}
	return p.frame.Bus.Publish(p.frame.Outbound, data)
}

func (p *Peer) loadCADFile(payload json.RawMessage) (interface{}, error) {
	var req LoadCADFileRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, errors.New("url is required")
	}
	model := modelFromURL(req.URL)

	p.mu.Lock()
	p.scene.Model = &model
	p.scene.Selection = nil
	p.mu.Unlock()

	p.log.Infof("Loaded %s", req.URL)
	return LoadCADFileResult{ModelStructure: model}, nil
}

func (p *Peer) getModelStructure(json.RawMessage) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scene.Model == nil {
		return LoadCADFileResult{ModelStructure: ModelNode{Name: "root"}}, nil
	}
	return LoadCADFileResult{ModelStructure: *p.scene.Model}, nil
}

func (p *Peer) setColor(apply func(*Scene, string)) CommandHandler {
	return func(payload json.RawMessage) (interface{}, error) {
		var req ColorRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Color == "" {
			return nil, errors.New("color is required")
		}
		p.mu.Lock()
		apply(&p.scene, req.Color)
		p.mu.Unlock()
		return req, nil
	}
}

func (p *Peer) setMode(apply func(*Scene, string)) CommandHandler {
	return func(payload json.RawMessage) (interface{}, error) {
		var req ModeRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Mode == "" {
			return nil, errors.New("mode is required")
		}
		p.mu.Lock()
		apply(&p.scene, req.Mode)
		p.mu.Unlock()
		return req, nil
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// modelFromURL builds a small deterministic tree named after the file.
func modelFromURL(raw string) ModelNode {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	name := strings.TrimSuffix(path.Base(p), path.Ext(p))
	if name == "" || name == "." || name == "/" {
		name = "model"
	}
	root := []string{name}
	return ModelNode{
		Name: name,
		Path: root,
		Children: []ModelNode{
			{Name: "Body", Path: []string{name, "Body"}},
			{Name: "Assembly", Path: []string{name, "Assembly"}},
		},
	}
}
