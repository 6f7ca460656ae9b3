package bridgerpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/beeper/webchat-bridge/pkg/transcript"
)

// loopbackSender plays the host: it records what the client sends and lets
// the test answer with envelopes.
type loopbackSender struct {
	mu   sync.Mutex
	sent []InboundMessage
	next chan InboundMessage
	err  error
}

func newLoopbackSender() *loopbackSender {
	return &loopbackSender{next: make(chan InboundMessage, 16)}
}

func (s *loopbackSender) SendToHost(_ context.Context, msg any) error {
	if s.err != nil {
		return s.err
	}
	in, ok := msg.(InboundMessage)
	if !ok {
		return errors.New("unexpected message type")
	}
	s.mu.Lock()
	s.sent = append(s.sent, in)
	s.mu.Unlock()
	s.next <- in
	return nil
}

func envelope(t *testing.T, call string, arg any) Envelope {
	t.Helper()
	raw, err := json.Marshal(arg)
	if err != nil {
		t.Fatalf("marshal arg: %v", err)
	}
	return Envelope{Call: call, Arg: raw}
}

func TestClientChatRoundTrip(t *testing.T) {
	sender := newLoopbackSender()
	client := NewClient(sender, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		in := <-sender.next
		var payload ChatPayload
		_ = json.Unmarshal(in.Payload, &payload)
		// A stray response first; it must not disturb the real one.
		client.HandleEnvelope(envelope(t, EntryReceive, NewResponse("stray", "nope", nil)))
		client.HandleEnvelope(envelope(t, EntryReceive, NewResponse(in.ID, "echo: "+payload.Text, nil)))
	}()

	got, err := client.Chat(ctx, "hello")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "echo: hello" {
		t.Fatalf("expected echo reply, got %q", got)
	}
	if sender.sent[0].Type != TypeChat {
		t.Fatalf("expected chat type, got %q", sender.sent[0].Type)
	}
	if client.Registry().Pending() != 0 {
		t.Fatalf("expected no pending calls")
	}
}

func TestClientChatError(t *testing.T) {
	sender := newLoopbackSender()
	client := NewClient(sender, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		in := <-sender.next
		client.HandleResponse(NewResponse(in.ID, "", errors.New("boom")))
	}()

	_, err := client.Chat(ctx, "hello")
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Message != "boom" {
		t.Fatalf("expected boom, got %q", callErr.Message)
	}
}

func TestClientChatRejectsEmptyAndSendFailure(t *testing.T) {
	sender := newLoopbackSender()
	client := NewClient(sender, zerolog.Nop())
	if _, err := client.Chat(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}

	sender.err = errors.New("socket gone")
	if _, err := client.Chat(context.Background(), "hi"); err == nil {
		t.Fatalf("expected send failure")
	}
	if client.Registry().Pending() != 0 {
		t.Fatalf("expected failed send to leave no pending call")
	}
}

func TestClientCloseRejectsPending(t *testing.T) {
	sender := newLoopbackSender()
	client := NewClient(sender, zerolog.Nop())
	errs := make(chan error, 1)
	go func() {
		_, err := client.Chat(context.Background(), "hi")
		errs <- err
	}()
	<-sender.next
	client.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for rejected call")
	}
}

func TestClientLogHasNoCorrelation(t *testing.T) {
	sender := newLoopbackSender()
	client := NewClient(sender, zerolog.Nop())
	if err := client.Log(context.Background(), "page loaded"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	in := <-sender.next
	if in.ID != LogID || in.Log == nil || *in.Log != "page loaded" {
		t.Fatalf("unexpected log message: %+v", in)
	}
	if client.Registry().Pending() != 0 {
		t.Fatalf("log lines must not register calls")
	}
}

func TestClientBootstrapAndEnqueueHooks(t *testing.T) {
	client := NewClient(newLoopbackSender(), zerolog.Nop())
	enqueued := make(chan EnqueuePayload, 1)
	client.OnEnqueue(func(p EnqueuePayload) { enqueued <- p })

	boot := transcript.Bootstrap{
		SessionKey:      "main",
		InitialMessages: []transcript.ChatMessage{transcript.TextMessage(transcript.RoleUser, "hi")},
	}
	client.HandleEnvelope(envelope(t, EntryBootstrap, boot))
	client.HandleEnvelope(envelope(t, EntryBootstrap, transcript.Bootstrap{SessionKey: "other"}))

	got, err := client.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got.SessionKey != "main" || len(got.InitialMessages) != 1 {
		t.Fatalf("expected first bootstrap to win, got %+v", got)
	}

	client.HandleEnvelope(envelope(t, EntryEnqueue, EnqueuePayload{Text: "ping", Thinking: "low"}))
	select {
	case p := <-enqueued:
		if p.Text != "ping" || p.Thinking != "low" {
			t.Fatalf("unexpected enqueue payload: %+v", p)
		}
	default:
		t.Fatalf("expected enqueue hook to run")
	}
}

func TestNewResponseSerializesNullError(t *testing.T) {
	raw, err := json.Marshal(NewResponse("abc", "hi", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"abc","ok":true,"result":{"text":"hi"},"error":null}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}
