package gatehouse

import (
	"context"
	"math"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/identity"
	"github.com/gatehouse-security/gatehouse-go/internal/tenant"
)

// UnaryServerInterceptor runs the enforcement pipeline for unary gRPC calls.
// Tenants come from the x-tenant-id / x-tenant-code metadata keys, the rate
// limit key from the authenticated user (x-user-id metadata) or the peer
// address. Denials map to canonical status codes.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		inst := getInstance()
		if inst == nil || config.IsGatehouseDisabled() {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)

		tc, err := resolveGRPCTenant(ctx, inst, md)
		if err != nil {
			return nil, err
		}
		if tc != nil {
			ctx = context.WithValue(ctx, tenantCtxKey, tc)
		}

		id := grpcIdentity(ctx, md)
		res, limitErr := inst.limiter.Check(ctx, id.Key, "global")
		if !res.Allowed {
			if limitErr == nil {
				inst.limiter.RecordViolation(ctx, id.Key)
			}
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(retryAfter)))
			if res.Banned {
				return nil, status.Error(codes.ResourceExhausted, "temporarily banned for repeated rate limit violations")
			}
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}

type tenantContextKey struct{}

var tenantCtxKey tenantContextKey

// TenantFromContext returns the tenant resolved by the gRPC interceptor.
func TenantFromContext(ctx context.Context) *tenant.Context {
	tc, _ := ctx.Value(tenantCtxKey).(*tenant.Context)
	return tc
}

func resolveGRPCTenant(ctx context.Context, inst *instance, md metadata.MD) (*tenant.Context, error) {
	identifier := firstMetadataValue(md, "x-tenant-id")
	if identifier == "" {
		identifier = firstMetadataValue(md, "x-tenant-code")
	}

	if identifier == "" {
		if inst.requireTenant {
			return nil, status.Error(codes.InvalidArgument, "no tenant could be resolved for this request")
		}
		return nil, nil
	}

	registry := inst.registry
	if registry == nil {
		if inst.requireTenant {
			return nil, status.Error(codes.InvalidArgument, "no tenant could be resolved for this request")
		}
		return nil, nil
	}

	tc, err := registry.Lookup(ctx, identifier)
	if err != nil {
		if inst.requireTenant {
			return nil, status.Error(codes.InvalidArgument, "no tenant could be resolved for this request")
		}
		return nil, nil
	}
	return tc, nil
}

func grpcIdentity(ctx context.Context, md metadata.MD) identity.Identity {
	userID := firstMetadataValue(md, "x-user-id")

	var ip string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}

	return identity.New(userID, ip, firstMetadataValue(md, "user-agent"))
}

func firstMetadataValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
