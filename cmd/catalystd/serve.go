package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystmesh/catalyst/config"
	"github.com/catalystmesh/catalyst/internal/dispatcher"
	"github.com/catalystmesh/catalyst/internal/grpctransport"
	"github.com/catalystmesh/catalyst/internal/peering"
	"github.com/catalystmesh/catalyst/internal/portalloc"
	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/rpcsurface"
	"github.com/catalystmesh/catalyst/internal/xds"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalystd node agent",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("catalystd: %w", err)
	}
	cfg.EnablePprof = cfg.EnablePprof || enablePprof

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	buildInfo := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalyst_build_info",
		Help: "Build information for the running catalystd binary",
	}, []string{"version", "commit", "date"})
	buildInfo.WithLabelValues(version, commit, date).Set(1)

	peeringMetrics := peering.NewMetrics(reg)

	reducer := rib.New(rib.NodeIdentity{Name: cfg.Node.Name, Endpoint: cfg.Node.Endpoint, Domains: cfg.Node.Domains})

	pool, err := cfg.Ports.Expand()
	if err != nil {
		return fmt.Errorf("catalystd: %w", err)
	}
	allocator := portalloc.New(pool, nil)
	ports := &dispatcherPorts{allocator: allocator}

	dialer := peering.NewPooledDialer(
		grpctransport.NewDialer(grpc.WithTransportCredentials(insecure.NewCredentials())),
		clockwork.NewRealClock(),
		cfg.ConnectionGracePeriod,
	)

	engine := peering.NewEngine(peering.EngineConfig{
		Local:             rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: cfg.Node.Name, Endpoint: cfg.Node.Endpoint}},
		Dialer:            dialer,
		Logger:            log,
		Clock:             clockwork.NewRealClock(),
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInitial:  cfg.ReconnectInitial,
		ReconnectMax:      cfg.ReconnectMax,
		AuthFailureLimit:  cfg.AuthFailureLimit,
		AuthFailureWindow: cfg.AuthFailureWindow,
		Metrics:           peeringMetrics,
	}, 256)

	var tls *xds.MeshTLS
	if cfg.TLS != nil {
		tls = &xds.MeshTLS{} // cert material is loaded by the external PKI collaborator; paths recorded in config only
	}

	peerEnvoyAddr := map[string]string{}
	for _, p := range cfg.Peers {
		peerEnvoyAddr[p.Name] = p.Endpoint
	}

	d := dispatcher.New(dispatcher.Config{
		Reducer:           reducer,
		Peering:           engine,
		Ports:             ports,
		DataPlane:         &loggingDataPlane{log: log},
		Gateway:           newGatewaySink(cfg.GatewayURL),
		Logger:            log,
		EnvoyBindAddress:  cfg.EnvoyBindAddress,
		EgressBindAddress: cfg.EgressBindAddress,
		PeerEnvoyAddress:  peerEnvoyAddr,
		TLS:               tls,
	})

	actionPump := pumpEngineActions(engine, d, log)

	grpcMetrics := grpcprom.NewServerMetrics()
	reg.MustRegister(grpcMetrics)

	grpcServer := grpc.NewServer(
		grpc.StreamInterceptor(grpcMetrics.StreamServerInterceptor()),
		grpc.UnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
	)
	grpcSrv := grpctransport.NewServer(log, nil, func(ctx context.Context, peer rib.PeerInfo, transport peering.Transport) {
		engine.AdoptInbound(ctx, peer, transport)
	})
	grpcSrv.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("catalystd: listen on %q: %w", cfg.BindAddress, err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if cfg.EnablePprof {
		metricsMux.HandleFunc("/debug/pprof/", pprof.Index)
		metricsMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		metricsMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux}

	errCh := make(chan error, 4)
	go func() {
		log.Info("grpc server starting", "address", cfg.BindAddress)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info("metrics server starting", "address", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		if err := d.Run(ctx); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	sweepTicker := time.NewTicker(cfg.HeartbeatInterval)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				engine.SweepExpired()
			}
		}
	}()

	for _, p := range cfg.Peers {
		p := p
		go func() {
			if err := engine.Connect(ctx, rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: p.Name, Endpoint: p.Endpoint}, PeerToken: p.PeerToken}); err != nil {
				log.Warn("initial peer connect failed", "peer", p.Name, "error", err)
			}
		}()
	}

	surface := rpcsurface.New(nil, d, reducer)
	_ = surface // exposed to external RPC transports by an adapter outside this command's scope

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("component failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	_ = metricsServer.Shutdown(shutdownCtx)
	close(actionPump)

	return nil
}

// dispatcherPorts adapts a single portalloc.Allocator to
// dispatcher.PortAllocation by namespacing ingress and egress keys.
type dispatcherPorts struct {
	allocator *portalloc.Allocator
}

func (p *dispatcherPorts) AllocateIngress(routeName string) (int, error) {
	return p.allocator.Allocate("ingress:" + routeName)
}

func (p *dispatcherPorts) AllocateEgress(routeName, peerName string) (int, error) {
	return p.allocator.Allocate("egress:" + routeName + "@" + peerName)
}

func (p *dispatcherPorts) ReleaseIngress(routeName string) {
	p.allocator.Release("ingress:" + routeName)
}

func (p *dispatcherPorts) ReleaseEgress(routeName, peerName string) {
	p.allocator.Release("egress:" + routeName + "@" + peerName)
}

// loggingDataPlane stands in for the external data-plane adapter spec §1
// delegates proxy process lifecycle and wire serialization to.
type loggingDataPlane struct {
	log *slog.Logger
}

func (d *loggingDataPlane) Apply(ctx context.Context, snap *xds.Snapshot) error {
	d.log.Info("xds snapshot built", "version", snap.Version, "listeners", len(snap.Listeners), "clusters", len(snap.Clusters))
	return nil
}

// httpGatewaySink posts the GraphQL service aggregation to an external
// gateway endpoint as a `{services:[{name,url}]}` JSON document.
type httpGatewaySink struct {
	url    string
	client *http.Client
}

func newGatewaySink(url string) dispatcher.GatewaySink {
	if url == "" {
		return nil
	}
	return &httpGatewaySink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (g *httpGatewaySink) UpdateConfig(ctx context.Context, cfg dispatcher.GatewayConfig) error {
	type service struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	type payload struct {
		Services []service `json:"services"`
	}
	p := payload{}
	for _, s := range cfg.Services {
		p.Services = append(p.Services, service{Name: s.Name, URL: s.URL})
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway sync: status %d", resp.StatusCode)
	}
	return nil
}

// pumpEngineActions drains the Peering Engine's synthesized actions into
// the Dispatcher. Returns a channel the caller closes to stop the pump.
func pumpEngineActions(engine *peering.Engine, d *dispatcher.Dispatcher, log *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case action := <-engine.Actions():
				if err := d.Submit(context.Background(), action); err != nil {
					log.Warn("failed to submit peering-synthesized action", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
