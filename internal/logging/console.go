package logging

import (
	"bytes"
	"io"

	log "github.com/sirupsen/logrus"
)

// DefaultConsoleTimeFormat prefixes every console line with a wall-clock time.
const DefaultConsoleTimeFormat = "15:04:05"

// Console appends human-readable diagnostics to a named sink. It is the
// host-side counterpart of the on-page output panel: nothing written here
// affects control flow, and no method ever returns an error or panics.
type Console struct {
	name string
	out  *log.Logger
}

// ConsoleOption customises a Console.
type ConsoleOption func(*lineFormatter)

// WithTimeFormat sets the line prefix layout. An empty layout drops the prefix.
func WithTimeFormat(layout string) ConsoleOption {
	return func(f *lineFormatter) { f.timeFormat = layout }
}

// NewConsole creates a console writing to sink. name identifies the sink in
// diagnostics, e.g. "output".
func NewConsole(name string, sink io.Writer, opts ...ConsoleOption) *Console {
	f := &lineFormatter{timeFormat: DefaultConsoleTimeFormat}
	for _, opt := range opts {
		opt(f)
	}
	if sink == nil {
		sink = io.Discard
	}
	l := log.New()
	l.SetOutput(sink)
	l.SetFormatter(f)
	l.SetLevel(log.InfoLevel)
	return &Console{name: name, out: l}
}

// Name returns the sink name.
func (c *Console) Name() string { return c.name }

// Log appends one line.
func (c *Console) Log(message string) {
	defer func() { _ = recover() }()
	c.out.Info(message)
}

// LogJSON appends label followed by an indented JSON rendering of data.
// Self references are rendered as "[Circular]" instead of failing.
func (c *Console) LogJSON(label string, data interface{}) {
	defer func() { _ = recover() }()
	body := RenderJSON(data)
	if label == "" {
		c.out.Info(body)
		return
	}
	c.out.Info(label + " " + body)
}

type lineFormatter struct {
	timeFormat string
}

func (f *lineFormatter) Format(e *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	if f.timeFormat != "" {
		b.WriteByte('[')
		b.WriteString(e.Time.Format(f.timeFormat))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
