package auth

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// passHandler is a grpc.UnaryHandler that returns ("ok", nil).
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func withKey(header, key string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(header, key))
}

func TestAPIKeyInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		key      string
		ctx      context.Context
		wantCode codes.Code
	}{
		{"mode none passes", "none", "secret", context.Background(), codes.OK},
		{"unset key passes", "apikey", "", context.Background(), codes.OK},
		{"correct key", "apikey", "supersecret", withKey("x-api-key", "supersecret"), codes.OK},
		{"wrong key", "apikey", "supersecret", withKey("x-api-key", "wrong"), codes.Unauthenticated},
		{"prefix of key", "apikey", "supersecret", withKey("x-api-key", "super"), codes.Unauthenticated},
		{"header absent", "apikey", "supersecret", metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		{"no metadata", "apikey", "supersecret", context.Background(), codes.Unauthenticated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			i := APIKeyInterceptor(tc.mode, "x-api-key", tc.key)
			res, err := i(tc.ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
			if code := status.Code(err); code != tc.wantCode {
				t.Fatalf("code: got %v, want %v", code, tc.wantCode)
			}
			if tc.wantCode == codes.OK && res != "ok" {
				t.Errorf("result: got %v, want ok", res)
			}
		})
	}
}

func TestAPIKeyInterceptor_CustomHeader(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-reach-token", "mytoken")
	if _, err := i(withKey("x-reach-token", "mytoken"), nil, &grpc.UnaryServerInfo{}, passHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := i(withKey("x-api-key", "mytoken"), nil, &grpc.UnaryServerInfo{}, passHandler); status.Code(err) != codes.Unauthenticated {
		t.Errorf("default header accepted with custom header configured: %v", err)
	}
}

// fakeStream carries only a context.
type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestAPIKeyStreamInterceptor(t *testing.T) {
	i := APIKeyStreamInterceptor("apikey", "x-api-key", "k")
	called := false
	h := func(interface{}, grpc.ServerStream) error { called = true; return nil }

	if err := i(nil, fakeStream{ctx: withKey("x-api-key", "k")}, &grpc.StreamServerInfo{}, h); err != nil || !called {
		t.Fatalf("valid key: err=%v called=%v", err, called)
	}
	called = false
	err := i(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{}, h)
	if status.Code(err) != codes.Unauthenticated || called {
		t.Errorf("missing key: err=%v called=%v", err, called)
	}
}
