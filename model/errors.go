package model

import "errors"

var (
	// ErrUnknownHost indicates an operation required a host record that does
	// not exist at the switch.
	ErrUnknownHost = errors.New("unknown host")
	// ErrNoRoute indicates no reachable port or path exists.
	ErrNoRoute = errors.New("no route")
	// ErrTopologyInconsistent indicates a topology mutation referenced an
	// unknown node or port, or would reuse a port for a second neighbour.
	ErrTopologyInconsistent = errors.New("topology inconsistency")
	// ErrDuplicateGroup indicates a group already exists for a
	// (switch, source, destination) triple; callers switch to modify.
	ErrDuplicateGroup = errors.New("duplicate group id")
)
