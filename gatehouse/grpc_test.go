package gatehouse_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/gatehouse-security/gatehouse-go/gatehouse"
)

func grpcContext(ip string, md metadata.MD) context.Context {
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50051},
	})
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	return ctx
}

func invokeUnary(t *testing.T, ctx context.Context) error {
	t.Helper()
	interceptor := gatehouse.UnaryServerInterceptor()
	_, err := interceptor(ctx, struct{}{},
		&grpc.UnaryServerInfo{FullMethod: "/orders.v1.OrderService/Create"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	return err
}

func TestUnaryServerInterceptor_RateLimit(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 2, Window: time.Minute},
				Algorithm: "sliding_window",
			},
		},
	})

	ctx := grpcContext("203.0.113.9", nil)

	require.NoError(t, invokeUnary(t, ctx))
	require.NoError(t, invokeUnary(t, ctx))

	err := invokeUnary(t, ctx)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// A different peer has its own budget.
	assert.NoError(t, invokeUnary(t, grpcContext("203.0.113.10", nil)))
}

func TestUnaryServerInterceptor_UserKeyed(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 1, Window: time.Minute},
				Algorithm: "sliding_window",
			},
		},
	})

	alice := grpcContext("203.0.113.9", metadata.Pairs("x-user-id", "alice"))
	bob := grpcContext("203.0.113.9", metadata.Pairs("x-user-id", "bob"))

	require.NoError(t, invokeUnary(t, alice))
	require.NoError(t, invokeUnary(t, bob))

	err := invokeUnary(t, alice)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestUnaryServerInterceptor_TenantRequired(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Registry:      testTenantRegistry(),
		RequireTenant: true,
	})

	err := invokeUnary(t, grpcContext("203.0.113.9", nil))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.NoError(t, invokeUnary(t, grpcContext("203.0.113.9", metadata.Pairs("x-tenant-code", "acme"))))
}

func TestUnaryServerInterceptor_TenantInContext(t *testing.T) {
	initGatehouse(t, gatehouse.Config{Registry: testTenantRegistry()})

	interceptor := gatehouse.UnaryServerInterceptor()
	ctx := grpcContext("203.0.113.9", metadata.Pairs("x-tenant-id", "t-1"))

	_, err := interceptor(ctx, struct{}{},
		&grpc.UnaryServerInfo{FullMethod: "/orders.v1.OrderService/Create"},
		func(ctx context.Context, req any) (any, error) {
			tc := gatehouse.TenantFromContext(ctx)
			require.NotNil(t, tc)
			assert.Equal(t, "acme", tc.Code)
			return "ok", nil
		})
	require.NoError(t, err)
}

func TestUnaryServerInterceptor_NotInitializedPassesThrough(t *testing.T) {
	gatehouse.Shutdown()
	assert.NoError(t, invokeUnary(t, grpcContext("203.0.113.9", nil)))
}
