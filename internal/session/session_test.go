package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

type stubConnectionStore struct {
	connections map[string]memory.Connection
}

func (s *stubConnectionStore) CreateConnection(ctx context.Context, input memory.CreateConnectionInput) (memory.Connection, error) {
	return memory.Connection{}, errors.New("not implemented")
}

func (s *stubConnectionStore) GetConnection(ctx context.Context, id string) (memory.Connection, error) {
	conn, ok := s.connections[id]
	if !ok {
		return memory.Connection{}, memory.ErrNotFound
	}
	return conn, nil
}

func (s *stubConnectionStore) ListConnections(ctx context.Context) ([]memory.Connection, error) {
	return nil, errors.New("not implemented")
}

func (s *stubConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	return errors.New("not implemented")
}

func TestResolvePrefersExplicitID(t *testing.T) {
	store := &stubConnectionStore{connections: map[string]memory.Connection{
		"conn-a": {ID: "conn-a", Name: "analytics"},
		"conn-b": {ID: "conn-b", Name: "billing"},
	}}
	resolver := NewResolver(store, "conn-a")

	conn, err := resolver.Resolve(context.Background(), "conn-b")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if conn.ID != "conn-b" {
		t.Fatalf("conn.ID = %s, want conn-b", conn.ID)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	store := &stubConnectionStore{connections: map[string]memory.Connection{
		"conn-a": {ID: "conn-a", Name: "analytics"},
	}}
	resolver := NewResolver(store, "conn-a")

	conn, err := resolver.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if conn.ID != "conn-a" {
		t.Fatalf("conn.ID = %s, want conn-a", conn.ID)
	}
}

func TestResolveErrorsWithoutDefault(t *testing.T) {
	resolver := NewResolver(&stubConnectionStore{}, "")

	_, err := resolver.Resolve(context.Background(), "")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolveErrorsOnUnknownConnection(t *testing.T) {
	store := &stubConnectionStore{connections: map[string]memory.Connection{}}
	resolver := NewResolver(store, "")

	_, err := resolver.Resolve(context.Background(), "conn-missing")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "conn-missing") {
		t.Fatalf("Resolve() error = %v, want id in message", err)
	}
}
