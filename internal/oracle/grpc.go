package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCService is the remote oracle's service name. Payloads are
// google.protobuf.Struct in both directions.
const (
	GRPCService        = "pitchlabs.oracle.v1.ProspectOracle"
	grpcGenerateMethod = "/" + GRPCService + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("oracle service not serving")
)

// GRPCConfig holds configuration for the remote oracle client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC calls a remote oracle service.
type GRPC struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGRPC connects to the remote oracle and fails fast when it is not
// reachable or reports itself as not serving.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client for %s: %w", cfg.Address, err)
	}

	c := &GRPC{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		c.closeQuietly()
		return nil, fmt.Errorf("oracle at %s not ready: %w", cfg.Address, err)
	}
	if err := c.Health(connectCtx); err != nil {
		c.closeQuietly()
		return nil, err
	}

	logger.Info("Connected to remote oracle", "address", cfg.Address)
	return c, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Health checks the standard gRPC health service for the oracle.
func (c *GRPC) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Generate sends the turn to the remote service.
func (c *GRPC) Generate(ctx context.Context, req *Request) (*Response, error) {
	in, err := requestStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, grpcGenerateMethod, in, out); err != nil {
		c.logger.Warn("Remote oracle call failed", "error", err, "session_id", req.SessionID)
		return nil, fmt.Errorf("generate: %w", err)
	}
	return responseFromStruct(out)
}

// Close closes the gRPC connection.
func (c *GRPC) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *GRPC) closeQuietly() {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
	}
}

func requestStruct(req *Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, t := range req.History {
		turn := map[string]any{
			"role": string(t.Role),
			"text": t.Text,
		}
		if t.IsEvent {
			turn["event_type"] = t.EventType
			turn["event_message"] = t.EventMessage
		}
		history = append(history, turn)
	}
	fields := map[string]any{
		"session_id":     req.SessionID,
		"scenario_id":    req.ScenarioID,
		"persona":        req.Persona,
		"tier":           string(req.Tier),
		"gauge":          req.Gauge,
		"mood":           string(req.Mood),
		"phase":          string(req.Phase),
		"exchange_count": req.ExchangeCount,
		"history":        history,
		"text":           req.Text,
	}
	return structpb.NewStruct(fields)
}

func responseFromStruct(s *structpb.Struct) (*Response, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	return &resp, nil
}
