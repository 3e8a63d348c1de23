package xds

import (
	"fmt"
	"net"
	"net/url"
	"sort"

	"github.com/catalystmesh/catalyst/internal/rib"
	"google.golang.org/protobuf/types/known/durationpb"
)

var zeroTimeout = &durationpb.Duration{Seconds: 0, Nanos: 0}

// Input is everything the builder needs to produce a Snapshot. It carries
// no behavior of its own; port allocation (internal/portalloc) and peer
// envoy addresses (from the caller's configuration) are resolved by the
// caller beforehand, per
// spec §4.6's "pure function: (routes, peers, ports, TLS) → snapshot".
type Input struct {
	Local    []rib.LocalRoute
	Internal []rib.InternalRoute

	// IngressPorts maps a local route's Name to its allocated port.
	IngressPorts map[string]int
	// EgressPorts maps "<route name>@<peer name>" to its allocated port.
	EgressPorts map[string]int
	// PeerEnvoyAddress maps a peer's Name to its envoy host:port.
	PeerEnvoyAddress map[string]string
	// EnvoyPort maps "<route name>@<peer name>" to the upstream envoy port
	// advertised for that internal route (route.envoyPort in spec §4.6).
	EnvoyPort map[string]int

	BindAddress       string
	EgressBindAddress string // defaults to BindAddress when empty
	Version           string
	TLS               *MeshTLS
}

func egressKey(routeName, peerName string) string {
	return routeName + "@" + peerName
}

// Build is a pure function: the same Input always yields byte-identical
// listener/cluster content, differing only by Version (spec §4.6's
// determinism property).
func Build(in Input) (*Snapshot, []string, error) {
	if in.BindAddress == "" {
		return nil, nil, fmt.Errorf("xds: bindAddress is required")
	}
	egressBind := in.EgressBindAddress
	if egressBind == "" {
		egressBind = in.BindAddress
	}

	var warnings []string
	var listeners []Listener
	var clusters []Cluster

	locals := append([]rib.LocalRoute(nil), in.Local...)
	sort.Slice(locals, func(i, j int) bool { return locals[i].Name < locals[j].Name })

	for _, route := range locals {
		if route.Endpoint == "" {
			continue // silently skipped per spec §4.6
		}
		port, ok := in.IngressPorts[route.Name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("route %q: no ingress port allocated, omitted from snapshot", route.Name))
			continue
		}
		host, ep, err := resolveEndpoint(route.Endpoint)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("route %q: %v, skipped", route.Name, err))
			continue
		}

		clusterName := "local_" + route.Name
		listeners = append(listeners, buildListener("ingress_"+route.Name, fmt.Sprintf("%s:%d", in.BindAddress, port), clusterName, route.Protocol, in.TLS, true))
		clusters = append(clusters, buildCluster(clusterName, host, ep, route.Protocol, nil))
	}

	internals := append([]rib.InternalRoute(nil), in.Internal...)
	sort.Slice(internals, func(i, j int) bool {
		if internals[i].Name != internals[j].Name {
			return internals[i].Name < internals[j].Name
		}
		return internals[i].PeerName < internals[j].PeerName
	})

	for _, route := range internals {
		key := egressKey(route.Name, route.PeerName)
		envoyPort, ok := in.EnvoyPort[key]
		if !ok {
			continue // no envoyPort => silently skipped per spec §4.6
		}
		egressPort, ok := in.EgressPorts[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("route %q via %q: no egress port allocated, omitted from snapshot", route.Name, route.PeerName))
			continue
		}
		peerAddr, ok := in.PeerEnvoyAddress[route.PeerName]
		if !ok || peerAddr == "" {
			continue // no peer.envoyAddress => silently skipped
		}
		host, _, err := net.SplitHostPort(peerAddr)
		if err != nil {
			host = peerAddr
		}

		listenerName := fmt.Sprintf("egress_%s_via_%s", route.Name, route.PeerName)
		clusterName := fmt.Sprintf("remote_%s_via_%s", route.Name, route.PeerName)

		listeners = append(listeners, buildListener(listenerName, fmt.Sprintf("%s:%d", egressBind, egressPort), clusterName, route.Protocol, nil, false))
		clusters = append(clusters, buildCluster(clusterName, host, Endpoint{Host: host, Port: envoyPort}, route.Protocol, in.TLS))
	}

	sort.Slice(listeners, func(i, j int) bool { return listeners[i].Name < listeners[j].Name })
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })

	return &Snapshot{Version: in.Version, Listeners: listeners, Clusters: clusters}, warnings, nil
}

func buildListener(name, bindAddress, clusterName string, protocol rib.Protocol, tls *MeshTLS, ingress bool) Listener {
	l := Listener{
		Name:        name,
		BindAddress: bindAddress,
		ClusterName: clusterName,
	}

	switch {
	case protocol == rib.ProtocolTCP:
		l.TCPProxy = true
	case protocol.IsGraphQL():
		l.WebsocketUpgrade = true
		l.RouteTimeout = zeroTimeout
	case protocol == rib.ProtocolHTTPGRPC:
		l.WebsocketUpgrade = false
		l.RouteTimeout = zeroTimeout
	default: // http
		l.WebsocketUpgrade = true
	}

	if ingress && tls != nil {
		l.TLS = &DownstreamTLS{
			MinVersion:               "TLSv1.3",
			ECDHCurves:               tls.curves(),
			RequireClientCertificate: true,
			ForwardClientCertDetails: protocol != rib.ProtocolTCP,
		}
	}
	return l
}

func buildCluster(name, host string, ep Endpoint, protocol rib.Protocol, tls *MeshTLS) Cluster {
	c := Cluster{
		Name:     name,
		Endpoint: ep,
	}
	if isLiteralIP(host) {
		c.Type = ClusterStatic
	} else {
		c.Type = ClusterStrictDNS
		c.DNSLookupFamily = "V4_ONLY"
	}
	if protocol == rib.ProtocolHTTPGRPC {
		c.UpstreamHTTP2 = true
	}
	if tls != nil {
		c.TLS = &UpstreamTLS{MinVersion: "TLSv1.3", ECDHCurves: tls.curves()}
	}
	return c
}

func isLiteralIP(host string) bool {
	return net.ParseIP(host) != nil
}

// resolveLoopback maps the "localhost" hostname to its IPv4 loopback
// literal so cluster classification treats it as STATIC rather than
// STRICT_DNS; every other host passes through unchanged.
func resolveLoopback(host string) string {
	if host == "localhost" {
		return "127.0.0.1"
	}
	return host
}

// resolveEndpoint parses a route endpoint ("http://host:port" or a bare
// "host:port") into a host string and Endpoint.
func resolveEndpoint(raw string) (string, Endpoint, error) {
	host, portStr, err := net.SplitHostPort(stripScheme(raw))
	if err != nil {
		return "", Endpoint{}, fmt.Errorf("malformed endpoint %q: %w", raw, err)
	}
	host = resolveLoopback(host)
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", Endpoint{}, fmt.Errorf("malformed endpoint port %q: %w", raw, err)
	}
	return host, Endpoint{Host: host, Port: port}, nil
}

func stripScheme(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
