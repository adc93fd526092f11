package api

import (
	"context"
	"errors"

	"clinicbook/internal/domain"
	"clinicbook/internal/models"
	"clinicbook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const adminServiceName = "clinicbook.admin.v1.AdminService"

func adminMethod(name string) string {
	return "/" + adminServiceName + "/" + name
}

type ReferenceRequest struct {
	Reference string `json:"reference"`
}

type ReservationReply struct {
	Reservation *models.Reservation `json:"reservation"`
}

type ListSlotsRequest struct{}

type ListSlotsReply struct {
	Slots []models.SlotAvailability `json:"slots"`
}

// AdminServer is the operator-facing RPC surface.
type AdminServer interface {
	Confirm(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error)
	Decline(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error)
	Cancel(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error)
	Lookup(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error)
	ListSlots(ctx context.Context, req *ListSlotsRequest) (*ListSlotsReply, error)
}

// AdminServiceDesc describes AdminServer for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Confirm", Handler: unaryHandler("Confirm", AdminServer.Confirm)},
		{MethodName: "Decline", Handler: unaryHandler("Decline", AdminServer.Decline)},
		{MethodName: "Cancel", Handler: unaryHandler("Cancel", AdminServer.Cancel)},
		{MethodName: "Lookup", Handler: unaryHandler("Lookup", AdminServer.Lookup)},
		{MethodName: "ListSlots", Handler: unaryHandler("ListSlots", AdminServer.ListSlots)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req, Resp any](
	method string,
	call func(AdminServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: adminMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AdminService implements AdminServer on top of the booking service.
type AdminService struct {
	bookings domain.BookingService
}

func NewAdminService(bookings domain.BookingService) *AdminService {
	return &AdminService{bookings: bookings}
}

func (s *AdminService) Confirm(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error) {
	return s.reservationCall(ctx, req, s.bookings.AdminConfirm)
}

func (s *AdminService) Decline(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error) {
	return s.reservationCall(ctx, req, s.bookings.AdminDecline)
}

func (s *AdminService) Cancel(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error) {
	return s.reservationCall(ctx, req, s.bookings.AdminCancel)
}

func (s *AdminService) Lookup(ctx context.Context, req *ReferenceRequest) (*ReservationReply, error) {
	return s.reservationCall(ctx, req, s.bookings.LookupByReference)
}

func (s *AdminService) ListSlots(ctx context.Context, _ *ListSlotsRequest) (*ListSlotsReply, error) {
	slots, err := s.bookings.ListAvailableSlots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListSlotsReply{Slots: slots}, nil
}

func (s *AdminService) reservationCall(
	ctx context.Context,
	req *ReferenceRequest,
	call func(context.Context, string) (*models.Reservation, error),
) (*ReservationReply, error) {
	if req == nil || req.Reference == "" {
		return nil, status.Error(codes.InvalidArgument, "reference is required")
	}
	r, err := call(ctx, req.Reference)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReservationReply{Reservation: r}, nil
}

func toStatus(err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrSlotNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrSlotFull),
		errors.Is(err, service.ErrSlotUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrAllocationFailed), errors.Is(err, service.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "try again later")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
