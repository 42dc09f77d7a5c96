package nbi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/fabric-controller/model"
)

// ErrInvalidArgument wraps every request validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// ParseSwitchParam reads a switch id from the route variable or query
// parameter name.
func ParseSwitchParam(r *http.Request, name string) (model.SwitchID, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		raw = r.URL.Query().Get(name)
	}
	if strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	sw, err := model.ParseSwitchID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return sw, nil
}

// ParseMACParam reads a 48-bit MAC address from the query parameter name.
func ParseMACParam(r *http.Request, name string) (net.HardwareAddr, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	mac, err := net.ParseMAC(raw)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: %s: not a 48-bit MAC address: %q", ErrInvalidArgument, name, raw)
	}
	return mac, nil
}

func invalid(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidArgument, msg) }

func wrapNotFound(what string) error { return fmt.Errorf("%w: %s", ErrNotFound, what) }

func wrapUnavailable(what string) error { return fmt.Errorf("%w: %s", ErrUnavailable, what) }
