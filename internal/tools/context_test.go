package tools

import (
	"context"
	"testing"
)

func TestConversationIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"empty when unset", context.Background(), ""},
		{"round trip", WithConversationID(context.Background(), "conv-123"), "conv-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConversationIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("ConversationIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("unset = %q, want empty", got)
	}
	ctx := WithRequestID(WithConversationID(context.Background(), "c"), "r-1")
	if got := RequestIDFromContext(ctx); got != "r-1" {
		t.Errorf("RequestIDFromContext() = %q, want r-1", got)
	}
	if got := ConversationIDFromContext(ctx); got != "c" {
		t.Errorf("conversation id lost: %q", got)
	}
}
