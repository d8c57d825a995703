package publisher

import (
	"context"
	"strings"
	"testing"
)

// mockPublisher is a test implementation of Publisher
type mockPublisher struct {
	name string
}

func (m *mockPublisher) Publish(_ context.Context, _ []byte, title string) (Ref, error) {
	return Ref{URL: "mock://" + title, ID: title}, nil
}

func (m *mockPublisher) Name() string {
	return m.name
}

func TestRegister(t *testing.T) {
	t.Run("registers a publisher successfully", func(t *testing.T) {
		r, _ := NewRegistry()
		if err := r.Register(&mockPublisher{name: "test1"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := r.Get("test1"); err != nil {
			t.Errorf("publisher was not registered: %v", err)
		}
	})

	t.Run("returns error when registering nil publisher", func(t *testing.T) {
		r, _ := NewRegistry()
		if err := r.Register(nil); err == nil {
			t.Error("expected error for nil publisher, got nil")
		}
	})

	t.Run("returns error when publisher name is empty", func(t *testing.T) {
		r, _ := NewRegistry()
		if err := r.Register(&mockPublisher{name: ""}); err == nil {
			t.Error("expected error for empty name, got nil")
		}
	})

	t.Run("returns error when duplicate name is registered", func(t *testing.T) {
		_, err := NewRegistry(&mockPublisher{name: "test2"}, &mockPublisher{name: "test2"})
		if err == nil {
			t.Error("expected error for duplicate registration, got nil")
		}
	})
}

func TestGet(t *testing.T) {
	r, err := NewRegistry(&mockPublisher{name: "gist"}, &mockPublisher{name: "file"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	t.Run("returns registered publisher", func(t *testing.T) {
		p, err := r.Get("file")
		if err != nil {
			t.Fatalf("expected publisher, got %v", err)
		}
		if p.Name() != "file" {
			t.Errorf("expected name 'file', got '%s'", p.Name())
		}
	})

	t.Run("returns error for unknown publisher", func(t *testing.T) {
		if _, err := r.Get("pastebin"); err == nil {
			t.Error("expected error for unknown publisher")
		}
	})
}

func TestGet_UnknownListsAvailable(t *testing.T) {
	r, _ := NewRegistry(&mockPublisher{name: "gist"}, &mockPublisher{name: "file"})
	_, err := r.Get("pastebin")
	if err == nil || !strings.Contains(err.Error(), "[file gist]") {
		t.Errorf("Get() error = %v, want the sorted publisher names", err)
	}
}
