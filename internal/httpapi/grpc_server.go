package httpapi

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"hrgate.org/internal/auth"
	"hrgate.org/internal/obs"
)

const (
	authServiceName        = "hrgate.v1.AuthService"
	authenticateFullMethod = "/" + authServiceName + "/Authenticate"
)

// AuthServiceServer lets internal services delegate bearer token checks.
type AuthServiceServer interface {
	Authenticate(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error)
}

// AuthServiceDesc describes hrgate.v1.AuthService using well-known message types.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: authServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hrgate/v1/auth.proto",
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authenticateFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).Authenticate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// AuthServiceClient calls hrgate.v1.AuthService.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) Authenticate(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, authenticateFullMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCServer implements AuthService and keeps the standard health service in step with
// readiness.
type GRPCServer struct {
	authn     *auth.Authenticator
	readiness readinessChecker
	health    *health.Server
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(authn *auth.Authenticator, r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{authn: authn, readiness: r, health: health.NewServer()}
}

// Register installs AuthService and grpc.health.v1 on s.
func (s *GRPCServer) Register(g *grpc.Server) {
	g.RegisterService(&AuthServiceDesc, s)
	healthpb.RegisterHealthServer(g, s.health)
}

// Authenticate validates the bearer token and returns the caller's identity and scope.
func (s *GRPCServer) Authenticate(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	ac, err := s.authn.AuthenticateToken(ctx, in.GetValue())
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return nil, status.Error(codes.Unauthenticated, "not authenticated")
		}
		obs.Logger().ErrorContext(ctx, "grpc authenticate failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	fields := map[string]any{
		"principal_id": ac.PrincipalID(),
		"email":        ac.Email(),
		"role":         string(ac.Role()),
		"expires_at":   ac.ExpiresAt().UTC().Format(time.RFC3339),
		"has_scope":    false,
	}
	if sc, ok := ac.Scope().Get(); ok {
		fields["has_scope"] = true
		fields["employee_id"] = sc.EmployeeID
		fields["company_id"] = sc.CompanyID
		fields["department_id"] = sc.DepartmentID
	}
	return structpb.NewStruct(fields)
}

// UpdateReadiness runs the readiness probe and publishes the result to the health service.
func (s *GRPCServer) UpdateReadiness(ctx context.Context) bool {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.health.SetServingStatus(authServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(authServiceName, healthpb.HealthCheckResponse_SERVING)
	return true
}

// Shutdown marks every service as not serving.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }
