package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/beeper/webchat-bridge/pkg/bridgeutil"
)

// Config describes how to reach the agent CLI.
type Config struct {
	Binary  string
	Args    []string
	WorkDir string
	Env     []string
	// MaxConcurrent bounds simultaneous agent processes. Zero means no limit.
	MaxConcurrent int
}

// AgentError is reported when the agent exits with a non-zero status. The
// message is whatever the agent printed to stdout.
type AgentError struct {
	ExitCode int
	Output   string
}

func (e *AgentError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("agent exited with status %d", e.ExitCode)
	}
	return e.Output
}

// Invoker runs one agent process per chat message.
type Invoker struct {
	cfg  Config
	exec Executor
	busy *BusyState
	sem  *semaphore.Weighted
	log  zerolog.Logger
}

func NewInvoker(cfg Config, executor Executor, busy *BusyState, log zerolog.Logger) *Invoker {
	if executor == nil {
		executor = ProcessExecutor{}
	}
	if busy == nil {
		busy = NewBusyState()
	}
	inv := &Invoker{
		cfg:  cfg,
		exec: executor,
		busy: busy,
		log:  log.With().Str("component", "agent").Logger(),
	}
	if cfg.MaxConcurrent > 0 {
		inv.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return inv
}

func (inv *Invoker) Busy() *BusyState {
	return inv.busy
}

// Command returns the agent command line for one message.
func (inv *Invoker) Command(text, sessionKey string) Command {
	args := append([]string{}, inv.cfg.Args...)
	args = append(args, "agent", "--to", sessionKey, "--message", text, "--json")
	return Command{
		Program: inv.cfg.Binary,
		Args:    args,
		Dir:     inv.cfg.WorkDir,
		Env:     inv.cfg.Env,
	}
}

// Invoke sends text to the agent for sessionKey and returns its reply.
// Identical calls are not coalesced; each spawns its own process.
func (inv *Invoker) Invoke(ctx context.Context, text, sessionKey string) (string, error) {
	release := inv.busy.Acquire()
	defer release()

	if inv.sem != nil {
		if err := inv.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer inv.sem.Release(1)
	}

	log := bridgeutil.LoggerFromContext(ctx, &inv.log)
	res, err := inv.exec.Run(ctx, inv.Command(text, sessionKey))
	if err != nil {
		return "", err
	}
	if len(res.Stderr) > 0 {
		log.Debug().Str("stderr", string(res.Stderr)).Msg("Agent wrote to stderr")
	}
	output := strings.TrimSpace(string(res.Stdout))
	if res.ExitCode != 0 {
		return "", &AgentError{ExitCode: res.ExitCode, Output: output}
	}
	if reply, ok := parseReply(res.Stdout); ok {
		return reply, nil
	}
	log.Debug().Msg("Agent output is not a payload list, returning raw text")
	return output, nil
}

// HandleChat lets the invoker serve as the dispatcher's chat handler.
func (inv *Invoker) HandleChat(ctx context.Context, sessionKey, text string) (string, error) {
	return inv.Invoke(ctx, text, sessionKey)
}

type agentOutput struct {
	Payloads []struct {
		Text *string `json:"text"`
	} `json:"payloads"`
}

func parseReply(stdout []byte) (string, bool) {
	var out agentOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return "", false
	}
	if len(out.Payloads) == 0 || out.Payloads[0].Text == nil {
		return "", false
	}
	return *out.Payloads[0].Text, true
}
