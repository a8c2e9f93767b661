package types

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithActor_GetActor(t *testing.T) {
	t.Run("round-trip stores and retrieves actor", func(t *testing.T) {
		actor := Actor{ID: "user-123", Type: ActorTypeUser, SessionID: "sess-1"}
		got, ok := GetActor(WithActor(context.Background(), actor))
		if !ok {
			t.Fatal("expected ok to be true, got false")
		}
		if got != actor {
			t.Errorf("GetActor() = %+v, want %+v", got, actor)
		}
	})

	t.Run("missing actor", func(t *testing.T) {
		if _, ok := GetActor(context.Background()); ok {
			t.Error("expected ok to be false on empty context")
		}
	})
}

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := GetRequestID(ctx); got != "req-42" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-42")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	stored := slog.New(slog.DiscardHandler)
	fallback := slog.New(slog.DiscardHandler)

	if got := LoggerFromContext(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("expected the stored logger")
	}
	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("expected the fallback logger")
	}
	if got := LoggerFromContext(context.Background(), nil); got != slog.Default() {
		t.Error("expected slog.Default() when nothing is available")
	}
}

func TestContextValues_DoNotInterfere(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "u1", Type: ActorTypeUser})
	ctx = WithRequestID(ctx, "req-1")

	if a, _ := GetActor(ctx); a.ID != "u1" {
		t.Errorf("actor lost after storing request id: %+v", a)
	}
	if GetRequestID(ctx) != "req-1" {
		t.Error("request id lost")
	}
}
