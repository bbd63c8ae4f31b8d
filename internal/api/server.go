package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beamworks/pvgate/internal/archive"
	"github.com/beamworks/pvgate/internal/infrastructure/config"
	"github.com/beamworks/pvgate/internal/infrastructure/logging"
	"github.com/beamworks/pvgate/internal/pv"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceGroup is the slice of the proxy surface the API drives.
// Satisfied by *pv.Proxy.
type DeviceGroup interface {
	Device() string
	Fields() []string
	ReadPVValue(field string) (pv.Value, error)
	ReadPVTagged(field, tag string, asText bool) (pv.Value, error)
	WritePVTagged(field, tag string, v pv.Value) error
	Status() uint32
}

// Ensure *pv.Proxy satisfies DeviceGroup.
var _ DeviceGroup = (*pv.Proxy)(nil)

// SampleSource serves historical sample queries. Satisfied by
// *archive.Store. Optional.
type SampleSource interface {
	Samples(ctx context.Context, q archive.Query) ([]archive.Sample, error)
	Latest(ctx context.Context, device, field string) (archive.Sample, error)
}

// Session reports gateway session liveness for the system endpoint.
// Satisfied by *gateway.Client. Optional.
type Session interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Groups  []DeviceGroup
	Samples SampleSource // optional: /samples returns 503 when nil
	Session Session      // optional: consulted for /system
	Version string
}

// Server is the HTTP API server for pvgate.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	groups  map[string]DeviceGroup
	order   []string // device names, registration order
	samples SampleSource
	session Session
	version string
	started time.Time
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(deps.Groups) == 0 {
		return nil, fmt.Errorf("at least one device group is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		groups:  make(map[string]DeviceGroup, len(deps.Groups)),
		samples: deps.Samples,
		session: deps.Session,
		version: deps.Version,
	}
	for _, g := range deps.Groups {
		if _, dup := s.groups[g.Device()]; dup {
			return nil, fmt.Errorf("duplicate device group: %s", g.Device())
		}
		s.groups[g.Device()] = g
		s.order = append(s.order, g.Device())
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.started = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// group resolves a device name, preserving handler-friendly lookup.
func (s *Server) group(device string) (DeviceGroup, bool) {
	g, ok := s.groups[device]
	return g, ok
}
