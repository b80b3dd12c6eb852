package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/invoice-agent/backend/pkg/retry"
)

type fakeBackend struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeBackend) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	f.calls = append(f.calls, model)
	if err, ok := f.errs[model]; ok {
		return "", err
	}
	return f.responses[model], nil
}

func (f *fakeBackend) Stream(ctx context.Context, model string, messages []Message) (<-chan StreamChunk, error) {
	f.calls = append(f.calls, model)
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Content: f.responses[model], ModelUsed: model}
	ch <- StreamChunk{ModelUsed: model, Done: true}
	close(ch)
	return ch, nil
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    1,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		Multiplier:     1.0,
		JitterFraction: 0,
	}
}

func TestInvokeFallsBackToNextModel(t *testing.T) {
	backend := &fakeBackend{
		responses: map[string]string{"model-b": "answer from b"},
		errs:      map[string]error{"model-a": errors.New("rate limited")},
	}

	gw, err := NewGateway(backend, GatewayConfig{
		Models: []string{"model-a", "model-b"},
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	result, err := gw.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, InvokeOptions{Model: "model-a"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if result.ModelUsed != "model-b" {
		t.Errorf("ModelUsed = %q, want model-b", result.ModelUsed)
	}
	if result.Content != "answer from b" {
		t.Errorf("Content = %q, want answer from b", result.Content)
	}
}

func TestInvokePoolExhaustion(t *testing.T) {
	backend := &fakeBackend{
		errs: map[string]error{
			"model-a": errors.New("down"),
			"model-b": errors.New("down"),
			"model-c": errors.New("down"),
		},
	}

	gw, err := NewGateway(backend, GatewayConfig{
		Models: []string{"model-a", "model-b", "model-c"},
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	_, err = gw.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, InvokeOptions{})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}

	if len(backend.calls) != 3 {
		t.Errorf("models tried = %d, want 3 (each model exactly once)", len(backend.calls))
	}
	seen := map[string]int{}
	for _, m := range backend.calls {
		seen[m]++
	}
	for model, count := range seen {
		if count != 1 {
			t.Errorf("model %s tried %d times, want 1", model, count)
		}
	}
}

func TestInvokePinnedModel(t *testing.T) {
	backend := &fakeBackend{
		responses: map[string]string{"model-b": "pinned"},
	}

	gw, err := NewGateway(backend, GatewayConfig{
		Models: []string{"model-a", "model-b"},
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	result, err := gw.Invoke(context.Background(), nil, InvokeOptions{Model: "model-b"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.ModelUsed != "model-b" {
		t.Errorf("ModelUsed = %q, want model-b", result.ModelUsed)
	}
	if backend.calls[0] != "model-b" {
		t.Errorf("first call went to %q, want model-b", backend.calls[0])
	}
}

func TestInvokeSelectsAcrossPool(t *testing.T) {
	backend := &fakeBackend{
		responses: map[string]string{"model-a": "a", "model-b": "b", "model-c": "c"},
	}

	gw, err := NewGateway(backend, GatewayConfig{
		Models: []string{"model-a", "model-b", "model-c"},
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		result, err := gw.Invoke(context.Background(), nil, InvokeOptions{})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		seen[result.ModelUsed] = true
	}

	// 200 uniform draws from 3 models miss one with probability ~1e-35.
	if len(seen) != 3 {
		t.Errorf("models selected = %v, want all three", seen)
	}
}

func TestStreamUsesPinnedModel(t *testing.T) {
	backend := &fakeBackend{
		responses: map[string]string{"model-a": "streamed text"},
	}

	gw, err := NewGateway(backend, GatewayConfig{
		Models: []string{"model-a", "model-b"},
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	ch, err := gw.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, InvokeOptions{Model: "model-a"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		content += chunk.Content
		if chunk.Done {
			done = true
		}
		if chunk.ModelUsed != "model-a" {
			t.Errorf("ModelUsed = %q, want model-a", chunk.ModelUsed)
		}
	}

	if content != "streamed text" {
		t.Errorf("content = %q", content)
	}
	if !done {
		t.Error("stream never signalled completion")
	}
}

func TestNewGatewayRequiresModels(t *testing.T) {
	if _, err := NewGateway(&fakeBackend{}, GatewayConfig{}); err == nil {
		t.Error("expected error for empty model pool")
	}
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips think block",
			in:   "<think>internal reasoning</think>The total is $42.00",
			want: "The total is $42.00",
		},
		{
			name: "strips multiline think block",
			in:   "<THINK>line one\nline two</THINK>\n\nAnswer",
			want: "Answer",
		},
		{
			name: "strips stray closing tag",
			in:   "</think>Answer here",
			want: "Answer here",
		},
		{
			name: "collapses blank lines",
			in:   "first\n\n\n\nsecond",
			want: "first\n\nsecond",
		},
		{
			name: "trims whitespace",
			in:   "  padded  ",
			want: "padded",
		},
		{
			name: "empty stays empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanResponse(tt.in); got != tt.want {
				t.Errorf("CleanResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
