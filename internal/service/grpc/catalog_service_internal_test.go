package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/idempotency"
)

func TestToStatus(t *testing.T) {
	s := NewCatalogService(nil, nil, nil, nil)

	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "not found", err: domain.ErrOrderNotFound, code: codes.NotFound},
		{name: "validation", err: domain.UnknownProductError(7), code: codes.InvalidArgument},
		{name: "conflict", err: domain.ConcurrencyConflict("pin", errors.New("deadlock")), code: codes.Aborted},
		{name: "storage", err: domain.StorageFault("insert order", errors.New("disk full")), code: codes.Internal},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "passthrough status", err: status.Error(codes.FailedPrecondition, "x"), code: codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, status.Code(s.toStatus(tt.err, "test")))
		})
	}
}

func TestStorageFaultMessageIsHidden(t *testing.T) {
	s := NewCatalogService(nil, nil, nil, nil)

	err := s.toStatus(domain.StorageFault("insert order", errors.New("password=secret")), "test")
	require.NotContains(t, status.Convert(err).Message(), "secret")
}

func TestDecodeFailure(t *testing.T) {
	body, err := json.Marshal(idempotencyErrorPayload{Code: int32(codes.NotFound), Message: "order not found"})
	require.NoError(t, err)

	st := status.Convert(decodeFailure(idempotency.Response{Status: int(codes.NotFound), Body: body, Failed: true}))
	require.Equal(t, codes.NotFound, st.Code())
	require.Equal(t, "order not found", st.Message())

	st = status.Convert(decodeFailure(idempotency.Response{Status: int(codes.InvalidArgument), Body: []byte("{broken"), Failed: true}))
	require.Equal(t, codes.InvalidArgument, st.Code())

	st = status.Convert(decodeFailure(idempotency.Response{Status: 999, Failed: true}))
	require.Equal(t, codes.Internal, st.Code())
}

func TestEncodeResponse(t *testing.T) {
	resp := encodeResponse(nil, status.Error(codes.NotFound, "missing"))
	require.True(t, resp.Failed)
	require.False(t, resp.Retryable)
	require.Equal(t, int(codes.NotFound), resp.Status)

	resp = encodeResponse(nil, status.Error(codes.InvalidArgument, "bad"))
	require.False(t, resp.Retryable)

	for _, code := range []codes.Code{codes.Aborted, codes.Internal, codes.DeadlineExceeded} {
		resp = encodeResponse(nil, status.Error(code, "transient"))
		require.True(t, resp.Failed, code.String())
		require.True(t, resp.Retryable, code.String())
	}

	resp = encodeResponse(map[string]string{"ok": "yes"}, nil)
	require.False(t, resp.Failed)
	require.Equal(t, int(codes.OK), resp.Status)
	require.JSONEq(t, `{"ok":"yes"}`, string(resp.Body))
}

func TestGRPCCode(t *testing.T) {
	code, ok := grpcCode(int(codes.Aborted))
	require.True(t, ok)
	require.Equal(t, codes.Aborted, code)

	for _, value := range []int{0, -1, 17, 1 << 20} {
		_, ok := grpcCode(value)
		require.False(t, ok, "value %d", value)
	}
}

func TestReadIdempotencyKey(t *testing.T) {
	require.Empty(t, readIdempotencyKey(context.Background()))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(idempotencyKeyHeader, "  key-1 "))
	require.Equal(t, "key-1", readIdempotencyKey(ctx))
}
