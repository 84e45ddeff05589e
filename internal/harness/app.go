// Package harness is the demo application root: it owns the console, the
// viewer client and the "viewer is ready" flag, and maps user actions onto
// viewer commands.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"viewerhost/internal/channel"
	"viewerhost/internal/logging"
	"viewerhost/internal/viewer"
)

// ErrUnknownCommand is returned by Exec for an unrecognised line.
var ErrUnknownCommand = errors.New("unknown command")

type Options struct {
	// BaseURL is the page location presets are resolved against.
	BaseURL string
	// Presets maps a preset name to a path; DefaultPresets when nil.
	Presets map[string]string
	Logger  logging.Logger
}

type App struct {
	client  *viewer.Client
	console *logging.Console
	log     logging.Logger
	baseURL string
	presets map[string]string

	loaded atomic.Bool
	subs   []*channel.Subscription
}

// New wires the ready and selectionChanged handlers. Pickers stay inert
// until the viewer reports ready.
func New(client *viewer.Client, console *logging.Console, opts Options) *App {
	if opts.Presets == nil {
		opts.Presets = DefaultPresets()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	a := &App{
		client:  client,
		console: console,
		log:     opts.Logger,
		baseURL: opts.BaseURL,
		presets: opts.Presets,
	}

	a.subs = append(a.subs,
		client.OnReady(func(json.RawMessage) {
			a.console.Log("Ready")
			a.loaded.Store(true)
		}),
		client.OnReady(func(json.RawMessage) {
			a.report(a.client.GetModelStructure(), "getModelStructure:")
		}),
		client.OnSelectionChanged(func(payload json.RawMessage) {
			a.console.LogJSON("selectionChanged:", payload)
		}),
	)
	return a
}

// Loaded reports whether the viewer has announced ready.
func (a *App) Loaded() bool { return a.loaded.Load() }

// Presets returns the configured preset names, sorted.
func (a *App) Presets() []string { return presetNames(a.presets) }

// LoadPreset loads a named sample model and logs its structure on success.
func (a *App) LoadPreset(name string) (*channel.Future, error) {
	p, ok := a.presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	u, err := resolveURL(a.baseURL, p)
	if err != nil {
		return nil, err
	}
	return a.LoadURL(u), nil
}

// LoadURL loads an arbitrary model URL.
func (a *App) LoadURL(u string) *channel.Future {
	f := a.client.LoadCADFile(u)
	a.report(f, "modelStructure")
	return f
}

// SetBackgroundColor forwards the color once the viewer is ready.
func (a *App) SetBackgroundColor(color string) bool {
	return a.whenLoaded(viewer.CmdSetBackgroundColor, func() { a.client.SetBackgroundColor(color) })
}

func (a *App) SetHighlightColor(color string) bool {
	return a.whenLoaded(viewer.CmdSetHighlightColor, func() { a.client.SetHighlightColor(color) })
}

func (a *App) SetRenderMode(mode string) bool {
	return a.whenLoaded(viewer.CmdSetRenderMode, func() { a.client.SetRenderMode(mode) })
}

func (a *App) SetCameraManipulationMode(mode string) bool {
	return a.whenLoaded(viewer.CmdSetCameraManipulationMode, func() { a.client.SetCameraManipulationMode(mode) })
}

// RequestModelStructure asks for the current model tree and logs it.
func (a *App) RequestModelStructure() *channel.Future {
	f := a.client.GetModelStructure()
	a.report(f, "getModelStructure:")
	return f
}

// Exec runs one line command, the terminal stand-in for the page controls:
//
//	load <preset> | open <url> | background <color> | highlight <color> |
//	render <mode> | camera <mode> | structure | presets
func (a *App) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	arg := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s takes exactly one argument", cmd)
		}
		return args[0], nil
	}

	switch cmd {
	case "load":
		name, err := arg()
		if err != nil {
			return err
		}
		_, err = a.LoadPreset(name)
		return err
	case "open":
		u, err := arg()
		if err != nil {
			return err
		}
		a.LoadURL(u)
	case "background", "highlight", "render", "camera":
		v, err := arg()
		if err != nil {
			return err
		}
		setters := map[string]func(string) bool{
			"background": a.SetBackgroundColor,
			"highlight":  a.SetHighlightColor,
			"render":     a.SetRenderMode,
			"camera":     a.SetCameraManipulationMode,
		}
		setters[cmd](v)
	case "structure":
		a.RequestModelStructure()
	case "presets":
		a.console.Log("Presets: " + strings.Join(a.Presets(), ", "))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return nil
}

// Close cancels the app's subscriptions.
func (a *App) Close() {
	for _, s := range a.subs {
		s.Cancel()
	}
}

func (a *App) whenLoaded(command string, send func()) bool {
	if !a.loaded.Load() {
		a.log.Debugf("Ignoring %s: viewer not ready", command)
		return false
	}
	send()
	return true
}

// report logs the future's payload under label once it resolves.
func (a *App) report(f *channel.Future, label string) {
	go func() {
		payload, err := f.Wait(context.Background())
		if err != nil {
			a.console.Log(fmt.Sprintf("%s failed: %v", f.Command(), err))
			return
		}
		a.console.LogJSON(label, payload)
	}()
}
