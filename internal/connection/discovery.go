package connection

import (
	"fmt"
	"strings"
)

// Candidate is a raw peer found by a discovery collaborator.
type Candidate struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Kind    Kind   `json:"kind"`
}

// FromCandidate turns a discovery result into a new Disconnected
// Connection. The caller decides whether to register it.
func FromCandidate(c Candidate) (*Connection, error) {
	if strings.TrimSpace(c.Address) == "" {
		return nil, fmt.Errorf("%w: empty address", ErrAddressInvalid)
	}
	addr, err := ParseAddress(c.Kind, c.Address)
	if err != nil {
		return nil, err
	}
	return New(c.Name, addr)
}

// RestoreInfo rebuilds a Disconnected connection from its persisted Info,
// keeping the original ID.
func RestoreInfo(info Info) (*Connection, error) {
	addr, err := ParseAddress(info.Kind, info.Address)
	if err != nil {
		return nil, err
	}
	c, err := Restore(info.ID, info.Name, addr)
	if err != nil {
		return nil, err
	}
	c.SetDeviceID(info.DeviceID)
	return c, nil
}
