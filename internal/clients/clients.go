// Package clients holds the Go client for the kiosk gRPC service.
package clients

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	attendancegrpc "rollcall/attendance/internal/grpc"
)

type Kiosk struct {
	conn *grpc.ClientConn
}

// Dial connects to the kiosk service. Extra options are appended after the
// defaults, so callers can swap the dialer in tests.
func Dial(addr, serviceToken string, opts ...grpc.DialOption) (*Kiosk, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(serviceAuthUnaryClientInterceptor(serviceToken)),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Kiosk{conn: conn}, nil
}

func (k *Kiosk) Close() {
	if k == nil || k.conn == nil {
		return
	}
	_ = k.conn.Close()
}

// Tap marks attendance for a card id, internal id or student number and
// returns the decoded response document.
func (k *Kiosk) Tap(ctx context.Context, studentID string) (map[string]interface{}, error) {
	return k.invoke(ctx, attendancegrpc.TapMethod, map[string]interface{}{"studentId": studentID})
}

// DailyReport fetches the report for date (YYYY-MM-DD, empty for today),
// optionally limited to one class.
func (k *Kiosk) DailyReport(ctx context.Context, date, classID string) (map[string]interface{}, error) {
	req := map[string]interface{}{}
	if date != "" {
		req["date"] = date
	}
	if classID != "" {
		req["classId"] = classID
	}
	return k.invoke(ctx, attendancegrpc.DailyReportMethod, req)
}

func (k *Kiosk) invoke(ctx context.Context, method string, fields map[string]interface{}) (map[string]interface{}, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := k.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

func serviceAuthUnaryClientInterceptor(serviceToken string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, attendancegrpc.ServiceTokenHeader, serviceToken)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
