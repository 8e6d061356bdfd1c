package grpc

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/reports"
)

const (
	KioskServiceName  = "rollcall.attendance.v1.Kiosk"
	TapMethod         = "/" + KioskServiceName + "/Tap"
	DailyReportMethod = "/" + KioskServiceName + "/DailyReport"
)

// KioskService is what card readers call. Payloads are google.protobuf.Struct
// documents shaped like the HTTP JSON bodies.
type KioskService interface {
	Tap(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DailyReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var kioskServiceDesc = grpc.ServiceDesc{
	ServiceName: KioskServiceName,
	HandlerType: (*KioskService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Tap", Handler: tapHandler},
		{MethodName: "DailyReport", Handler: dailyReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rollcall/attendance/v1/kiosk.proto",
}

func tapHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KioskService).Tap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TapMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KioskService).Tap(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func dailyReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KioskService).DailyReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DailyReportMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KioskService).DailyReport(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type KioskServer struct {
	attendance *attendance.Service
	reports    *reports.Service
	log        logging.Logger
}

func NewKioskServer(attendanceSvc *attendance.Service, reportsSvc *reports.Service, log logging.Logger) *KioskServer {
	return &KioskServer{attendance: attendanceSvc, reports: reportsSvc, log: log}
}

func (s *KioskServer) Tap(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	studentID := studentIDField(req)
	if studentID == "" {
		return nil, status.Error(codes.InvalidArgument, attendance.ErrInvalidStudentID)
	}
	result, err := s.attendance.MarkAttendance(ctx, studentID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(result)
}

func (s *KioskServer) DailyReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	date, err := reports.ParseDate(stringField(req, "date"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	var classID *uuid.UUID
	if raw := stringField(req, "classId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid_id")
		}
		classID = &id
	}
	report, err := s.reports.DailyReport(ctx, date, classID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(report)
}

// NewServer builds the gRPC server with the kiosk service and the standard
// health service registered.
func NewServer(kiosk *KioskServer, serviceToken string) (*grpc.Server, error) {
	interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	server.RegisterService(&kioskServiceDesc, kiosk)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(KioskServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, nil
}

func (s *KioskServer) toStatus(ctx context.Context, err error) error {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Storage("kiosk", err)
	}
	code := codes.Internal
	switch appErr.Kind {
	case apperr.KindValidation, apperr.KindPolicy:
		code = codes.InvalidArgument
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindConflict:
		code = codes.AlreadyExists
	case apperr.KindUnauthorized:
		code = codes.Unauthenticated
	case apperr.KindForbidden:
		code = codes.PermissionDenied
	}
	if code == codes.Internal {
		s.log.Error(ctx, "kiosk call failed", "code", appErr.Code, "error", err)
	}
	return status.Error(code, appErr.Code+": "+appErr.Message)
}

func stringField(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// studentIDField reads studentId as a string, or as a whole number for
// clients that send student numbers numerically.
func studentIDField(s *structpb.Struct) string {
	v, ok := s.GetFields()["studentId"]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || n <= 0 || n > 1<<53 {
			return ""
		}
		return strconv.FormatInt(int64(n), 10)
	}
	return ""
}

// toStruct converts a JSON-serialisable value through its JSON form so the
// payload matches the HTTP API field for field.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	return out, nil
}
