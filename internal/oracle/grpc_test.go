package oracle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/pitch-labs/internal/domain"
)

type remoteOracle struct {
	last *structpb.Struct
}

func (r *remoteOracle) generate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r.last = in
	return structpb.NewStruct(map[string]any{
		"text":           "  Et ça coûte combien ?  ",
		"gauge_delta":    40,
		"behavioral_cue": "hausse un sourcil",
		"objection_tag":  "budget",
	})
}

var remoteOracleDesc = grpc.ServiceDesc{
	ServiceName: GRPCService,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*remoteOracle).generate(ctx, in)
		},
	}},
}

func startRemote(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (*remoteOracle, GRPCConfig) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	remote := &remoteOracle{}
	srv.RegisterService(&remoteOracleDesc, remote)
	hs := health.NewServer()
	hs.SetServingStatus(GRPCService, status)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGRPCConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	return remote, cfg
}

func TestGRPCGenerate(t *testing.T) {
	remote, cfg := startRemote(t, healthpb.HealthCheckResponse_SERVING)

	c, err := NewGRPC(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	req := &Request{
		SessionID:     "s-1",
		ScenarioID:    "hr-software",
		Tier:          domain.TierMedium,
		Gauge:         55,
		Mood:          domain.MoodNeutral,
		Phase:         domain.PhasePresentation,
		ExchangeCount: 2,
		History: []domain.Turn{
			{Role: domain.RoleUser, Text: "Bonjour"},
			{
				Role: domain.RoleProspect, Text: "Bonjour, je vous écoute.",
				IsEvent: true, EventType: "phone_call", EventMessage: "Un instant, mon telephone sonne.",
			},
		},
		Text: "Notre outil automatise la paie.",
	}
	resp, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, resp.Normalize())

	assert.Equal(t, "Et ça coûte combien ?", resp.Text)
	assert.Equal(t, 25, resp.GaugeDelta)
	assert.Equal(t, "budget", resp.ObjectionTag)

	got := remote.last.AsMap()
	assert.Equal(t, "s-1", got["session_id"])
	assert.Equal(t, "presentation", got["phase"])
	assert.EqualValues(t, 55, got["gauge"])
	history, ok := got["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.NotContains(t, history[0], "event_message")
	assert.Equal(t, map[string]any{
		"role":          "prospect",
		"text":          "Bonjour, je vous écoute.",
		"event_type":    "phone_call",
		"event_message": "Un instant, mon telephone sonne.",
	}, history[1])
}

func TestGRPCRejectsNotServing(t *testing.T) {
	_, cfg := startRemote(t, healthpb.HealthCheckResponse_NOT_SERVING)

	_, err := NewGRPC(cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotServing)
}
