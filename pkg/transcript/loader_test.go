package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type memoryBackend struct {
	files map[string][]byte
	reads int
}

func (b *memoryBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	b.reads++
	val, ok := b.files[key]
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

func TestParseTranscriptFiltersInvalidLines(t *testing.T) {
	data := []byte(`{"role":"user","text":"hi"}
{"role":"bot","text":"x"}
not-json
`)
	got := ParseTranscript(data)
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d: %+v", len(got), got)
	}
	if got[0].Role != RoleUser {
		t.Fatalf("expected role user, got %q", got[0].Role)
	}
	if len(got[0].Content) != 1 || got[0].Content[0].Type != "text" || got[0].Content[0].Text != "hi" {
		t.Fatalf("unexpected content: %+v", got[0].Content)
	}
}

func TestParseTranscriptSupportsNestedMessages(t *testing.T) {
	data := []byte(`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"hello"},{"type":"text","text":"again"}]}}
{"type":"session","id":"abc"}
{"message":{"role":"system","text":"be nice"}}
{"role":"assistant"}
{"role":"user","content":"plain string"}
`)
	got := ParseTranscript(data)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(got), got)
	}
	if got[0].Role != RoleAssistant || len(got[0].Content) != 2 || got[0].Content[1].Text != "again" {
		t.Fatalf("unexpected first message: %+v", got[0])
	}
	if got[1].Role != RoleSystem || got[1].Content[0].Text != "be nice" {
		t.Fatalf("unexpected second message: %+v", got[1])
	}
	if got[2].Role != RoleUser || got[2].Content[0].Text != "plain string" {
		t.Fatalf("unexpected third message: %+v", got[2])
	}
}

func TestParseTranscriptPreservesOrder(t *testing.T) {
	data := []byte("{\"role\":\"user\",\"text\":\"1\"}\r\n{\"role\":\"assistant\",\"text\":\"2\"}\n{\"role\":\"user\",\"text\":\"3\"}")
	got := ParseTranscript(data)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"1", "2", "3"} {
		if got[i].Content[0].Text != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, got[i].Content[0].Text)
		}
	}
}

func TestLoaderResolvesSessionKey(t *testing.T) {
	backend := &memoryBackend{files: map[string][]byte{
		"sessions.json": []byte(`{
  // written by the agent
  "main": { "sessionId": "abc-123", "updatedAt": 1730000000000, },
}`),
		"abc-123.jsonl": []byte(`{"role":"user","text":"hi"}` + "\n"),
	}}
	loader := NewLoader(backend, "", zerolog.Nop())

	got := loader.Load(context.Background(), "main")
	if len(got) != 1 || got[0].Content[0].Text != "hi" {
		t.Fatalf("unexpected transcript: %+v", got)
	}

	// Each load goes back to the backend.
	before := backend.reads
	_ = loader.Load(context.Background(), "main")
	if backend.reads != before+2 {
		t.Fatalf("expected 2 backend reads per load, got %d", backend.reads-before)
	}
}

func TestLoaderWrappedStoreLayout(t *testing.T) {
	backend := &memoryBackend{files: map[string][]byte{
		"sessions.json":  []byte(`{"sessions":{"work":{"sessionId":"s-1"}}}`),
		"s-1.jsonl":      []byte(`{"role":"assistant","text":"done"}`),
		"sessions.json~": []byte(`garbage`),
	}}
	got := NewLoader(backend, "", zerolog.Nop()).Load(context.Background(), "work")
	if len(got) != 1 || got[0].Role != RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", got)
	}
}

func TestLoaderMissingPiecesYieldEmpty(t *testing.T) {
	cases := map[string]*memoryBackend{
		"no store":        {files: map[string][]byte{}},
		"malformed store": {files: map[string][]byte{"sessions.json": []byte(`{{{`)}},
		"unknown key":     {files: map[string][]byte{"sessions.json": []byte(`{"other":{"sessionId":"x"}}`)}},
		"no transcript":   {files: map[string][]byte{"sessions.json": []byte(`{"main":{"sessionId":"x"}}`)}},
		"unsafe id":       {files: map[string][]byte{"sessions.json": []byte(`{"main":{"sessionId":"../x"}}`)}},
	}
	for name, backend := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewLoader(backend, "", zerolog.Nop()).Load(context.Background(), "main")
			if got == nil {
				t.Fatalf("expected empty slice, got nil")
			}
			if len(got) != 0 {
				t.Fatalf("expected no messages, got %+v", got)
			}
		})
	}
}

func TestLoaderFileBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sessions.json"), []byte(`{"main":{"sessionId":"f1"}}`), 0o644); err != nil {
		t.Fatalf("write store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f1.jsonl"), []byte("{\"role\":\"user\",\"text\":\"a\"}\n{\"role\":\"assistant\",\"text\":\"b\"}\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	loader := NewLoader(&FileBackend{Root: dir}, "", zerolog.Nop())
	boot := loader.Bootstrap(context.Background(), "main")
	if boot.SessionKey != "main" {
		t.Fatalf("expected session key main, got %q", boot.SessionKey)
	}
	if len(boot.InitialMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(boot.InitialMessages))
	}

	empty := NewLoader(&FileBackend{Root: filepath.Join(dir, "missing")}, "", zerolog.Nop())
	if got := empty.Load(context.Background(), "main"); len(got) != 0 {
		t.Fatalf("expected empty transcript for missing directory, got %+v", got)
	}
}

func TestParseTranscriptKeepsRichContentBlocks(t *testing.T) {
	assistant := `{"role":"assistant","content":[{"type":"thinking","thinking":"plan"},{"type":"image","source":{"data":"abc"}},{"type":"text","text":"ok"}]}`
	data := []byte(assistant + "\n" +
		`{"role":"user","content":[{"type":"text","text":7},"stray",{"type":"text","text":"fine"}]}` + "\n")
	got := ParseTranscript(data)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(got), got)
	}
	if got[0].Content[0].Type != "thinking" || got[0].Content[2].Text != "ok" {
		t.Fatalf("unexpected assistant blocks: %+v", got[0].Content)
	}

	out, err := json.Marshal(got[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != assistant {
		t.Fatalf("expected blocks to round-trip unchanged, got %s", out)
	}

	user := got[1]
	if len(user.Content) != 2 || user.Content[0].Text != "" || user.Content[1].Text != "fine" {
		t.Fatalf("unexpected user blocks: %+v", user.Content)
	}
	out, err = json.Marshal(user.Content[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"type":"text","text":7}` {
		t.Fatalf("expected original block, got %s", out)
	}
}

func TestBootstrapCarriesRichContentBlocks(t *testing.T) {
	line := `{"message":{"role":"assistant","content":[{"type":"thinking","thinking":"plan","signature":"s1"},{"type":"image","source":{"type":"base64","data":"abc"}}]}}`
	backend := &memoryBackend{files: map[string][]byte{
		"sessions.json": []byte(`{"main":{"sessionId":"r1"}}`),
		"r1.jsonl":      []byte(line + "\n"),
	}}
	boot := NewLoader(backend, "", zerolog.Nop()).Bootstrap(context.Background(), "main")
	out, err := json.Marshal(boot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"sessionKey":"main","initialMessages":[{"role":"assistant","content":[{"type":"thinking","thinking":"plan","signature":"s1"},{"type":"image","source":{"type":"base64","data":"abc"}}]}]}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestTextMessageMarshalsPlainBlock(t *testing.T) {
	out, err := json.Marshal(TextMessage(RoleUser, "hi"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"role":"user","content":[{"type":"text","text":"hi"}]}` {
		t.Fatalf("unexpected text message: %s", out)
	}
}
