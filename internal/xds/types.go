// Package xds is the pure function that turns RIB state into a versioned
// data-plane configuration (Envoy-shaped listeners and clusters). It has no
// I/O and no dependency on the reducer or peering packages beyond the plain
// value types passed in, matching spec §4.6 and the determinism note in
// spec §9 ("must be free of map-iteration nondeterminism").
package xds

import "google.golang.org/protobuf/types/known/durationpb"

// ClusterType mirrors Envoy's cluster discovery type, restricted to the two
// values the builder ever emits.
type ClusterType string

const (
	ClusterStatic    ClusterType = "STATIC"
	ClusterStrictDNS ClusterType = "STRICT_DNS"
)

// Endpoint is a resolved host:port pair.
type Endpoint struct {
	Host string
	Port int
}

// DownstreamTLS configures the ingress-side TLS context (mTLS).
type DownstreamTLS struct {
	MinVersion               string
	ECDHCurves               []string
	RequireClientCertificate bool
	ForwardClientCertDetails bool // HTTP listeners only: SANITIZE_SET uri/subject/dns
}

// UpstreamTLS configures the TLS context used when dialing a remote cluster.
type UpstreamTLS struct {
	MinVersion string
	ECDHCurves []string
}

// Listener is one data-plane listener.
type Listener struct {
	Name             string
	BindAddress      string // "host:port"
	ClusterName      string
	TCPProxy         bool // true => single tcp_proxy filter instead of HTTP
	WebsocketUpgrade bool
	RouteTimeout     *durationpb.Duration // nil => no override
	TLS              *DownstreamTLS
}

// Cluster is one data-plane upstream cluster.
type Cluster struct {
	Name            string
	Type            ClusterType
	Endpoint        Endpoint
	DNSLookupFamily string // set only when Type == ClusterStrictDNS
	UpstreamHTTP2   bool
	TLS             *UpstreamTLS
}

// Snapshot is a complete, versioned listener/cluster configuration.
type Snapshot struct {
	Version   string
	Listeners []Listener
	Clusters  []Cluster
}

// MeshTLS is the optional TLS material supplied at build time, consumed by
// ingress listeners and remote clusters only (never local clusters or
// egress listeners, per spec §4.6).
type MeshTLS struct {
	CertChain  string
	PrivateKey string
	CABundle   string
	ECDHCurves []string // defaults to [X25519MLKEM768, X25519, P-256] when empty
}

var defaultECDHCurves = []string{"X25519MLKEM768", "X25519", "P-256"}

func (t *MeshTLS) curves() []string {
	if t == nil || len(t.ECDHCurves) == 0 {
		return defaultECDHCurves
	}
	return t.ECDHCurves
}
