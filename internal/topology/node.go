// Package topology holds the controller-wide graph of switches, the links
// between them, and the hosts attached to them.
package topology

import (
	"net"
	"strings"

	"github.com/signalsfoundry/fabric-controller/model"
)

// NodeID names a graph node: a switch, or a learned host when Host is set.
type NodeID struct {
	Switch model.SwitchID
	Host   string
}

// SwitchNode returns the node for sw.
func SwitchNode(sw model.SwitchID) NodeID { return NodeID{Switch: sw} }

// HostNode returns the node for a host MAC.
func HostNode(mac net.HardwareAddr) NodeID {
	return NodeID{Host: strings.ToLower(mac.String())}
}

// IsHost reports whether n is a host node.
func (n NodeID) IsHost() bool { return n.Host != "" }

func (n NodeID) String() string {
	if n.IsHost() {
		return n.Host
	}
	return n.Switch.String()
}

// MarshalText lets NodeID key JSON maps.
func (n NodeID) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// Compare orders switches before hosts, switches by id, hosts by MAC.
func (n NodeID) Compare(o NodeID) int {
	switch {
	case n.IsHost() != o.IsHost():
		if n.IsHost() {
			return 1
		}
		return -1
	case n.IsHost():
		return strings.Compare(n.Host, o.Host)
	case n.Switch < o.Switch:
		return -1
	case n.Switch > o.Switch:
		return 1
	}
	return 0
}

// Edge is one direction of an adjacency.
type Edge struct {
	Port      model.PortNo `json:"port"`
	Bandwidth uint64       `json:"bandwidth"`
}

// View is the read side shared by Graph and Snapshot.
type View interface {
	Edge(from, to NodeID) (Edge, bool)
	Neighbors(n NodeID) []NodeID
	HasNode(n NodeID) bool
}
