package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

const (
	QueryServiceName = "ocr2.feeds.v1.FeedQuery"
	queryMethod      = "/" + QueryServiceName + "/Query"
)

// QueryRequest selects a feed and what to read from it. On the wire it is the
// 32 byte feed address followed by the Borsh encoded scope, carried in a
// BytesValue. The response BytesValue holds the store's Borsh response.
type QueryRequest struct {
	Feed  solana.PublicKey
	Scope store.Scope
}

func (r QueryRequest) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(r.Feed[:], false); err != nil {
		return nil, err
	}
	if err := r.Scope.MarshalWithEncoder(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeQueryRequest(b []byte) (r QueryRequest, err error) {
	dec := bin.NewBorshDecoder(b)
	feed, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return r, fmt.Errorf("failed to read feed address: %w; %w", err, store.ErrInvalidInput)
	}
	r.Feed = solana.PublicKeyFromBytes(feed)
	if err = r.Scope.UnmarshalWithDecoder(dec); err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return r, err
		}
		return r, fmt.Errorf("failed to read scope: %w; %w", err, store.ErrInvalidInput)
	}
	if n := dec.Remaining(); n != 0 {
		return r, fmt.Errorf("%d trailing bytes; %w", n, store.ErrInvalidInput)
	}
	return r, nil
}

// QueryServer answers feed queries.
type QueryServer interface {
	Query(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    queryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ocr2/feeds/v1/query",
}

func RegisterQueryServer(s grpc.ServiceRegistrar, srv QueryServer) {
	s.RegisterService(&queryServiceDesc, srv)
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: queryMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServer).Query(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// toStatus maps store errors onto gRPC codes; fromStatus reverses it so that
// clients can match store sentinels with errors.Is.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s; %w", st.Message(), store.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s; %w", st.Message(), store.ErrInvalidInput)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s; %w", st.Message(), store.ErrClosed)
	default:
		return err
	}
}
