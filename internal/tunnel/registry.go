package tunnel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"gpubridge/internal/config"
	"gpubridge/internal/telemetry"
)

const (
	// ServiceOllama is the logical name for the Ollama forward
	ServiceOllama = "ollama"

	// ServiceComfy is the logical name for the ComfyUI forward
	ServiceComfy = "comfyui"

	// firstLocalPort is where local port allocation starts
	firstLocalPort = 19000

	// defaultReadyTimeout bounds how long Endpoint waits for a new forward
	defaultReadyTimeout = 10 * time.Second
)

// ServiceStatus summarizes one tracked tunnel for status display.
type ServiceStatus struct {
	Name       string
	LocalPort  int
	RemotePort int
	Alive      bool
}

// Registry maps logical service names to live tunnels. It creates tunnels
// lazily, discards dead ones, and allocates local ports monotonically so a
// port is never handed out twice within a process lifetime.
type Registry struct {
	cfg          *config.Config
	spawn        SpawnFunc
	readyTimeout time.Duration

	mu       sync.Mutex
	tunnels  map[string]*Tunnel
	nextPort int
}

// Option adjusts registry construction; used by tests.
type Option func(*Registry)

// WithSpawner replaces the ssh command factory.
func WithSpawner(spawn SpawnFunc) Option {
	return func(r *Registry) { r.spawn = spawn }
}

// WithReadyTimeout changes the readiness wait for new tunnels.
func WithReadyTimeout(d time.Duration) Option {
	return func(r *Registry) { r.readyTimeout = d }
}

// NewRegistry creates an empty registry for the configured remote.
func NewRegistry(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:          cfg,
		spawn:        sshCommand,
		readyTimeout: defaultReadyTimeout,
		tunnels:      make(map[string]*Tunnel),
		nextPort:     firstLocalPort,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoint returns a ready local URL for the named service, spawning a new
// tunnel when none is tracked or the tracked one has died. The whole
// check-then-create sequence runs under one lock so two concurrent callers
// cannot both spawn a forward for the same service.
func (r *Registry) Endpoint(ctx context.Context, service string, remotePort int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tunnels[service]; ok {
		if t.Alive() {
			return t.LocalURL(), nil
		}
		// Dead tunnel; drop it and build a replacement below
		log.Printf("Tunnel for %s died, replacing it", service)
		t.Close()
		delete(r.tunnels, service)
	}

	_, span := telemetry.StartSpan(ctx, "tunnel.open")
	defer span.End()
	span.SetAttributes(
		attribute.String("tunnel.service", service),
		attribute.Int("tunnel.remote_port", remotePort),
	)

	// Local ports are never reused while the process lives, so a replacement
	// cannot collide with a port the OS is still tearing down.
	localPort := r.nextPort
	r.nextPort++

	spec := ServiceSpec{
		Name:        service,
		Destination: r.cfg.SSHDestination(),
		LocalPort:   localPort,
		RemotePort:  remotePort,
		SSHKey:      r.cfg.Remote.SSHKey,
	}

	t, err := openWith(spec, r.spawn)
	if err != nil {
		return "", fmt.Errorf("failed to create tunnel for %s: %w", service, err)
	}

	if err := t.WaitReady(r.readyTimeout); err != nil {
		// WaitReady has already terminated the child
		return "", fmt.Errorf("tunnel for %s not ready: %w", service, err)
	}

	r.tunnels[service] = t
	log.Printf("Tunnel for %s ready on localhost:%d", service, localPort)
	return t.LocalURL(), nil
}

// OllamaEndpoint returns a ready endpoint for the Ollama service.
func (r *Registry) OllamaEndpoint(ctx context.Context) (string, error) {
	return r.Endpoint(ctx, ServiceOllama, r.cfg.Remote.OllamaPort)
}

// ComfyEndpoint returns a ready endpoint for the ComfyUI service.
func (r *Registry) ComfyEndpoint(ctx context.Context) (string, error) {
	return r.Endpoint(ctx, ServiceComfy, r.cfg.Remote.ComfyPort)
}

// Active reports whether a live tunnel is tracked for the service. Liveness
// is re-checked lazily; there is no background health task.
func (r *Registry) Active(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[service]
	return ok && t.Alive()
}

// Status lists every tracked tunnel and whether it is still alive.
func (r *Registry) Status() []ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]ServiceStatus, 0, len(r.tunnels))
	for name, t := range r.tunnels {
		statuses = append(statuses, ServiceStatus{
			Name:       name,
			LocalPort:  t.LocalPort(),
			RemotePort: t.RemotePort(),
			Alive:      t.Alive(),
		})
	}
	return statuses
}

// Close terminates the tunnel for one service, if tracked.
func (r *Registry) Close(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tunnels[service]; ok {
		t.Close()
		delete(r.tunnels, service)
	}
}

// CloseAll terminates every tracked tunnel. Used for explicit disconnects
// and for teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, t := range r.tunnels {
		t.Close()
		delete(r.tunnels, name)
	}
}
