package engine

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestBearerFromContextExtractsKey(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc123"))
	if got := bearerFromContext(ctx); got != "abc123" {
		t.Fatalf("bearerFromContext() = %q, want %q", got, "abc123")
	}
}

func TestBearerFromContextMissingMetadata(t *testing.T) {
	if got := bearerFromContext(context.Background()); got != "" {
		t.Fatalf("bearerFromContext() = %q, want empty string", got)
	}
}
