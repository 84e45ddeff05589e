package channel

import (
	"errors"
	"fmt"

	"viewerhost/internal/messaging"
)

// Frame addresses one embedded context on a bus: Inbound carries host to
// viewer traffic, Outbound carries viewer to host traffic.
type Frame struct {
	ID       string
	Bus      messaging.Bus
	Inbound  string
	Outbound string
}

// NewFrame derives the conventional subjects for viewer id.
func NewFrame(bus messaging.Bus, id string) Frame {
	return Frame{
		ID:       id,
		Bus:      bus,
		Inbound:  fmt.Sprintf("viewer.%s.in", id),
		Outbound: fmt.Sprintf("viewer.%s.out", id),
	}
}

func (f Frame) validate() error {
	if f.Bus == nil {
		return errors.New("frame has no bus")
	}
	if f.Inbound == "" || f.Outbound == "" {
		return errors.New("frame subjects must be set")
	}
	if f.Inbound == f.Outbound {
		return errors.New("frame inbound and outbound subjects must differ")
	}
	return nil
}
