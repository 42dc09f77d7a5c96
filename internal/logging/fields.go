package logging

import (
	"net"
	"time"

	"github.com/signalsfoundry/fabric-controller/model"
)

// Domain field helpers. Keys are fixed so log queries stay stable.

func Switch(sw model.SwitchID) Field             { return Field{Key: "dpid", Value: uint64(sw)} }
func Port(p model.PortNo) Field                  { return Field{Key: "port", Value: p.String()} }
func InPort(p model.PortNo) Field                { return Field{Key: "in_port", Value: p.String()} }
func MAC(key string, mac net.HardwareAddr) Field { return Field{Key: key, Value: mac.String()} }
func Uint64(key string, v uint64) Field          { return Field{Key: key, Value: v} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }
func Bool(key string, v bool) Field              { return Field{Key: key, Value: v} }
func EventKind(kind model.EventKind) Field       { return Field{Key: "event", Value: string(kind)} }

// Err records err under "error". A nil error yields an empty string value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}
