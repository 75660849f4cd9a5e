package api

import (
	"context"
	"strings"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	getBookingMethod = "/" + ServiceName + "/GetBooking"

	metadataActorID   = "x-actor-id"
	metadataActorRole = "x-actor-role"
)

// BookingReader is the booking lookup served over gRPC.
type BookingReader interface {
	GetBooking(ctx context.Context, id string, actor models.Actor) (*models.Booking, error)
}

// BookingsServer answers booking status queries. Requests and responses use
// the protobuf well-known types, so clients need no generated stubs.
type BookingsServer interface {
	GetBooking(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

var bookingsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBooking", Handler: getBookingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chefbook/v1/bookings.proto",
}

func getBookingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookingsServer).GetBooking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getBookingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookingsServer).GetBooking(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type bookingsServer struct {
	reader BookingReader
}

func (s *bookingsServer) GetBooking(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	bookingID := strings.TrimSpace(id.GetValue())
	if bookingID == "" {
		return nil, status.Error(codes.InvalidArgument, "booking id is required")
	}

	b, err := s.reader.GetBooking(ctx, bookingID, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	return bookingStatus(b)
}

// actorFromMetadata applies the same identity rules as the HTTP gateway
// headers.
func actorFromMetadata(ctx context.Context) (models.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	actor := models.Actor{
		ID:   first(md.Get(metadataActorID)),
		Role: strings.ToLower(first(md.Get(metadataActorRole))),
	}
	if actor.ID == "" || actor.Role == "" {
		return actor, status.Error(codes.Unauthenticated, "missing actor metadata")
	}
	switch actor.Role {
	case models.RoleClient, models.RoleProvider, models.RoleAdmin:
		return actor, nil
	default:
		return actor, status.Error(codes.PermissionDenied, "role not allowed")
	}
}

func bookingStatus(b *models.Booking) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":             b.ID,
		"status":         b.Status,
		"payment_status": b.Payment.Status,
		"event_date":     b.Event.Date.Format(models.DateLayout),
		"currency":       b.Payment.Currency,
		"total_amount":   b.Pricing.TotalAmount,
		"deposit_amount": b.Payment.DepositAmount,
		"refund_amount":  b.Payment.RefundAmount,
		"version":        b.Version,
		"updated_at":     b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if b.Payment.IntentID != "" {
		fields["intent_id"] = b.Payment.IntentID
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode booking")
	}
	return st, nil
}

// grpcError maps core error kinds to status codes, as writeDomainError does
// for HTTP.
func grpcError(err error) error {
	switch domain.Kind(err) {
	case domain.ErrValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.ErrUnauthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.ErrInvalidTransition:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.ErrConcurrentModification:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
