// Package nbi exposes the controller's state northbound: a read-only REST
// API over the topology, learning tables, ARP tracker, path resolver and
// port statistics, plus a gRPC health service.
package nbi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/fabric-controller/internal/arp"
	"github.com/signalsfoundry/fabric-controller/internal/controller"
	"github.com/signalsfoundry/fabric-controller/internal/learning"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/internal/observability"
	"github.com/signalsfoundry/fabric-controller/internal/pathing"
	"github.com/signalsfoundry/fabric-controller/internal/sbi"
	"github.com/signalsfoundry/fabric-controller/internal/statsstore"
	"github.com/signalsfoundry/fabric-controller/internal/topology"
	"github.com/signalsfoundry/fabric-controller/model"
)

// API serves the REST surface. Graph, Learning, Tracker and Resolver are
// required; the rest are optional and their routes answer 503 when unset.
type API struct {
	Graph    *topology.Graph
	Learning *learning.Registry
	Tracker  *arp.Tracker
	Resolver *pathing.Resolver

	Poller   *controller.StatsPoller
	Stats    *statsstore.Memory
	Commands *sbi.SBIMetrics
	Metrics  *observability.NBICollector

	Log logging.Logger
}

// Router builds the gorilla/mux router for the API.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware(a.Log), TracingMiddleware)
	if a.Metrics != nil {
		r.Use(a.Metrics.Middleware)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/switches", a.listSwitches).Methods(http.MethodGet)
	v1.HandleFunc("/switches/{dpid}/hosts", a.switchHosts).Methods(http.MethodGet)
	v1.HandleFunc("/switches/{dpid}/stats", a.switchStats).Methods(http.MethodGet)
	v1.HandleFunc("/topology", a.topology).Methods(http.MethodGet)
	v1.HandleFunc("/arp", a.arpEntries).Methods(http.MethodGet)
	v1.HandleFunc("/paths", a.paths).Methods(http.MethodGet)
	v1.HandleFunc("/nexthop", a.nextHop).Methods(http.MethodGet)
	v1.HandleFunc("/commands", a.commands).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// SwitchSummary is one row of GET /v1/switches.
type SwitchSummary struct {
	DPID   model.SwitchID `json:"dpid"`
	Hosts  int            `json:"hosts"`
	Polled bool           `json:"polled"`
}

func (a *API) listSwitches(w http.ResponseWriter, r *http.Request) {
	snap := a.Graph.Snapshot()
	out := make([]SwitchSummary, 0)
	for _, sw := range snap.Switches() {
		s := SwitchSummary{DPID: sw}
		if t, ok := a.Learning.Lookup(sw); ok {
			s.Hosts = t.Len()
		}
		if a.Poller != nil {
			s.Polled = a.Poller.Registered(sw)
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

// TopologyView is the body of GET /v1/topology.
type TopologyView struct {
	Version  uint64                `json:"version"`
	Switches []model.SwitchID      `json:"switches"`
	Links    []topology.Link       `json:"links"`
	Hosts    []topology.Attachment `json:"hosts"`
}

func (a *API) topology(w http.ResponseWriter, r *http.Request) {
	snap := a.Graph.Snapshot()
	view := TopologyView{
		Version:  snap.Version(),
		Switches: snap.Switches(),
		Links:    snap.Links(),
		Hosts:    snap.Hosts(),
	}
	if view.Switches == nil {
		view.Switches = []model.SwitchID{}
	}
	if view.Links == nil {
		view.Links = []topology.Link{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) switchHosts(w http.ResponseWriter, r *http.Request) {
	sw, err := ParseSwitchParam(r, "dpid")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	t, ok := a.Learning.Lookup(sw)
	if !ok {
		a.writeError(w, r, wrapNotFound("learning table for switch "+sw.String()))
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (a *API) arpEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tracker.Snapshot())
}

// PathView is one resolved path of GET /v1/paths.
type PathView struct {
	Switches []model.SwitchID `json:"switches"`
	Cost     float64          `json:"cost"`
}

func (a *API) paths(w http.ResponseWriter, r *http.Request) {
	src, err := ParseSwitchParam(r, "src")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dst, err := ParseSwitchParam(r, "dst")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, span := StartChildSpan(r.Context(), "nbi.ResolvePaths", "path", src.String()+">"+dst.String())
	res, err := a.Resolver.Resolve(ctx, src, dst)
	endSpan(span, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]PathView, 0, len(res.Paths))
	for _, rp := range res.Paths {
		v := PathView{Cost: rp.Cost, Switches: make([]model.SwitchID, 0, len(rp.Path))}
		for _, n := range rp.Path {
			v.Switches = append(v.Switches, n.Switch)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"graph_version": res.Snapshot.Version(),
		"paths":         out,
	})
}

// NextHopView is the body of GET /v1/nexthop.
type NextHopView struct {
	DPID model.SwitchID `json:"dpid"`
	MAC  string         `json:"mac"`
	Port model.PortNo   `json:"port"`
}

func (a *API) nextHop(w http.ResponseWriter, r *http.Request) {
	sw, err := ParseSwitchParam(r, "dpid")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	mac, err := ParseMACParam(r, "mac")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	port, err := a.Graph.NextHop(sw, mac)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextHopView{DPID: sw, MAC: mac.String(), Port: port})
}

func (a *API) switchStats(w http.ResponseWriter, r *http.Request) {
	sw, err := ParseSwitchParam(r, "dpid")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.Stats == nil {
		a.writeError(w, r, wrapUnavailable("in-memory statistics store"))
		return
	}
	if r.URL.Query().Get("history") != "" {
		history, err := strconv.ParseBool(r.URL.Query().Get("history"))
		if err != nil {
			a.writeError(w, r, invalid("history must be a boolean"))
			return
		}
		if history {
			writeJSON(w, http.StatusOK, a.Stats.History(sw))
			return
		}
	}
	sample, ok := a.Stats.Latest(sw)
	if !ok {
		a.writeError(w, r, wrapNotFound("statistics for switch "+sw.String()))
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (a *API) commands(w http.ResponseWriter, r *http.Request) {
	if a.Commands == nil {
		a.writeError(w, r, wrapUnavailable("command counters"))
		return
	}
	writeJSON(w, http.StatusOK, a.Commands.Snapshot())
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	log := requestLogger(r.Context(), a.Log)
	if code >= http.StatusInternalServerError {
		log.Error(r.Context(), "nbi request failed", logging.Err(err))
	} else {
		log.Debug(r.Context(), "nbi request rejected", logging.Int("status", code), logging.Err(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error(), RequestID: logging.RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info(ctx, "serving http", logging.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
