package protocol

import "strings"

// Capabilities describes what a host exposes. It travels in handshake:ack.
type Capabilities struct {
	Protocol        string      `json:"protocol"`
	ProtocolVersion string      `json:"protocolVersion"`
	Host            HostInfo    `json:"host"`
	Features        Features    `json:"features"`
	Operations      []Operation `json:"operations"`
}

// HostInfo identifies the host implementation.
type HostInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Features lists optional host feature sets.
type Features struct {
	Storage *StorageFeature `json:"storage,omitempty"`
	UI      *UIFeature      `json:"ui,omitempty"`
}

// StorageFeature lists the storage backends a host can persist documents to.
type StorageFeature struct {
	Modes   []string `json:"modes"`
	Default string   `json:"default"`
}

// UIFeature reports which editor chrome the host lets the user toggle.
type UIFeature struct {
	PropertyPanel bool `json:"propertyPanel"`
	Menubar       bool `json:"menubar"`
}

// Operation names one request operation the host serves.
type Operation struct {
	Name string `json:"name"`
}

// NewCapabilities returns a descriptor stamped with this package's protocol
// identifier and version.
func NewCapabilities(host HostInfo, features Features, ops ...string) Capabilities {
	c := Capabilities{
		Protocol:        ProtocolID,
		ProtocolVersion: ProtocolVersion,
		Host:            host,
		Features:        features,
		Operations:      make([]Operation, 0, len(ops)),
	}
	for _, op := range ops {
		c.Operations = append(c.Operations, Operation{Name: op})
	}
	return c
}

// Valid reports whether the descriptor belongs to this protocol.
func (c Capabilities) Valid() bool { return c.Protocol == ProtocolID }

// Supports reports whether op is among the advertised operations.
func (c Capabilities) Supports(op string) bool {
	for _, o := range c.Operations {
		if o.Name == op {
			return true
		}
	}
	return false
}

// OperationNames returns the advertised operation names in order.
func (c Capabilities) OperationNames() []string {
	out := make([]string, 0, len(c.Operations))
	for _, o := range c.Operations {
		out = append(out, o.Name)
	}
	return out
}

// Compatible reports whether version shares the major component of
// ProtocolVersion. An empty version is treated as compatible.
func Compatible(version string) bool {
	if version == "" {
		return true
	}
	return major(version) == major(ProtocolVersion)
}

func major(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	m, _, _ := strings.Cut(v, ".")
	return m
}
