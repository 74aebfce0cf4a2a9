package infra

import (
	"context"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestNewRedisClient(t *testing.T) {
	ctx := context.Background()

	client, err := NewRedisClient(ctx, "")
	if err != nil || client != nil {
		t.Fatalf("expected empty url to disable redis, got %v %v", client, err)
	}

	mr := miniredis.RunT(t)
	client, err = NewRedisClient(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if err := client.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, err := NewRedisClient(ctx, "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewPostgresPoolRequiresURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestSchemaStatementsAreIdempotent(t *testing.T) {
	for i, stmt := range schema {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Fatalf("statement %d is not idempotent: %s", i, stmt)
		}
	}
}
