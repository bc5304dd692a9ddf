package intent

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/apptconcierge/libs/grpcx"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ResolveMethod is the full gRPC method name served by the language understanding service.
const ResolveMethod = "/concierge.intent.v1.IntentResolver/Resolve"

// GRPCResolver calls the resolver with google.protobuf.Struct bodies, so no generated stubs are needed.
type GRPCResolver struct {
	conn *grpc.ClientConn
}

func NewGRPCResolver(addr string, opts grpcx.DialOptions) (*GRPCResolver, error) {
	conn, err := grpcx.Dial(addr, opts)
	if err != nil {
		return nil, err
	}
	return &GRPCResolver{conn: conn}, nil
}

func NewGRPCResolverFromConn(conn *grpc.ClientConn) *GRPCResolver {
	return &GRPCResolver{conn: conn}
}

func (r *GRPCResolver) Close() error {
	return r.conn.Close()
}

func (r *GRPCResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode resolve request: %w", err)
	}
	out := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, ResolveMethod, in, out); err != nil {
		return Result{}, err
	}
	return decodeResult(out), nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	services := make([]any, 0, len(req.Settings.Services))
	for _, s := range req.Settings.Services {
		services = append(services, map[string]any{
			"name":         s.Name,
			"amount_minor": float64(s.AmountMinor),
		})
	}
	return structpb.NewStruct(map[string]any{
		"text":    req.Text,
		"history": history,
		"settings": map[string]any{
			"business_name": req.Settings.Name,
			"services":      services,
			"timezone":      req.Settings.Loc().String(),
		},
	})
}

func decodeResult(s *structpb.Struct) Result {
	fields := s.GetFields()
	res := Result{
		Message:            fields["message"].GetStringValue(),
		Intent:             Parse(fields["intent"].GetStringValue()),
		Sentiment:          fields["sentiment"].GetStringValue(),
		RequiresEscalation: fields["requires_escalation"].GetBoolValue(),
	}
	if ent := fields["entities"].GetStructValue(); ent != nil {
		ef := ent.GetFields()
		res.Entities = Entities{
			Name:    ef["name"].GetStringValue(),
			Email:   ef["email"].GetStringValue(),
			Phone:   ef["phone"].GetStringValue(),
			Service: ef["service"].GetStringValue(),
			Date:    ef["date"].GetStringValue(),
			Time:    ef["time"].GetStringValue(),
		}
	}
	return res
}
