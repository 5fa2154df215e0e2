package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/lagz0ne/claude-web/internal/buffer"
)

const (
	// DefaultBinary is the agent CLI launched when none is configured.
	DefaultBinary = "claude"

	// waitDelay bounds how long Wait lingers on pipes after the process is killed.
	waitDelay = 2 * time.Second
)

// maxEventSize bounds a single stream-json line from the agent.
var maxEventSize = 16 * 1024 * 1024

// CLIFactory starts agent streams by running the agent CLI in stream-json mode.
type CLIFactory struct {
	// Binary is the executable to run.
	Binary string

	// Env is appended to the current process environment.
	Env []string
}

// NewCLIFactory returns a factory for the given binary, defaulting to DefaultBinary.
func NewCLIFactory(binary string) *CLIFactory {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLIFactory{Binary: binary}
}

// buildArgs returns the CLI arguments for opts.
func buildArgs(opts Options) []string {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--setting-sources", "user,project",
	}

	if opts.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	if opts.Resume {
		args = append(args, "--resume", opts.SessionID)
	} else {
		args = append(args, "--session-id", opts.SessionID)
	}

	if opts.BypassPermissions {
		args = append(args, "--permission-mode", "bypassPermissions", "--dangerously-skip-permissions")
	} else {
		args = append(args, "--permission-prompt-tool", "stdio")
	}

	return args
}

// Start launches the agent process. The returned stream ends when the
// process exits or ctx is cancelled.
func (f *CLIFactory) Start(ctx context.Context, opts Options) (Stream, error) {
	if opts.Input == nil {
		return nil, fmt.Errorf("agent input is required")
	}

	procCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(procCtx, f.Binary, buildArgs(opts)...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), f.Env...)
	cmd.WaitDelay = waitDelay

	stderr := buffer.NewTail(buffer.DefaultTailSize)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	p := &process{
		ctx:      procCtx,
		cancel:   cancel,
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
		opts:     opts,
		events:   make(chan json.RawMessage),
		inFlight: make(map[string]context.CancelFunc),
	}

	log.Debug().Str("sessionId", opts.SessionID).Int("pid", cmd.Process.Pid).Bool("resume", opts.Resume).Msg("Agent process started")

	go p.writeLoop()
	go p.readLoop(stdout)

	return p, nil
}

// process is a Stream backed by a running agent CLI.
type process struct {
	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *buffer.Tail
	opts   Options

	writeMu sync.Mutex

	events chan json.RawMessage
	err    error

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// Recv returns the next event emitted by the agent.
func (p *process) Recv() (json.RawMessage, error) {
	select {
	case ev, ok := <-p.events:
		if !ok {
			return nil, p.err
		}
		return ev, nil
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	}
}

// Close kills the agent process.
func (p *process) Close() error {
	p.cancel()
	return nil
}

// writeLoop feeds human turns to the agent until the stream ends.
func (p *process) writeLoop() {
	for {
		turn, err := p.opts.Input.Next(p.ctx)
		if err != nil {
			return
		}
		if err := p.writeJSON(turn); err != nil {
			log.Warn().Err(err).Str("sessionId", p.opts.SessionID).Msg("Failed to deliver turn to agent")
			return
		}
	}
}

// readLoop splits stdout into agent events and control requests.
func (p *process) readLoop(stdout io.Reader) {
	defer close(p.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxEventSize)), maxEventSize)

scan:
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			log.Debug().Str("sessionId", p.opts.SessionID).Str("line", string(line)).Msg("Skipping non-JSON agent output")
			continue
		}

		switch gjson.GetBytes(line, "type").String() {
		case "control_request":
			p.handleControlRequest(bytes.Clone(line))
		case "control_cancel_request":
			p.cancelControlRequest(gjson.GetBytes(line, "request_id").String())
		case "control_response":
			// No outbound control requests are issued.
		default:
			select {
			case p.events <- json.RawMessage(bytes.Clone(line)):
			case <-p.ctx.Done():
				break scan
			}
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// The agent cannot be read past this point; stop it so Wait returns.
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn().Err(err).Str("sessionId", p.opts.SessionID).Msg("Failed to kill agent process")
		}
	}

	waitErr := p.cmd.Wait()
	p.cancelAllControlRequests()

	switch {
	case scanErr != nil:
		p.err = fmt.Errorf("failed to read agent output: %w", scanErr)
	case p.ctx.Err() != nil:
		p.err = p.ctx.Err()
	case waitErr != nil:
		p.err = p.exitError(waitErr)
	default:
		p.err = io.EOF
	}
}

func (p *process) exitError(err error) error {
	if tail := p.stderr.String(); tail != "" {
		return fmt.Errorf("agent process exited: %w: %s", err, tail)
	}
	return fmt.Errorf("agent process exited: %w", err)
}

func (p *process) handleControlRequest(line []byte) {
	requestID := gjson.GetBytes(line, "request_id").String()
	subtype := gjson.GetBytes(line, "request.subtype").String()

	if subtype != "can_use_tool" {
		p.respondError(requestID, fmt.Sprintf("unsupported control request: %s", subtype))
		return
	}

	input := gjson.GetBytes(line, "request.input")
	req := PermissionRequest{
		ToolName:  gjson.GetBytes(line, "request.tool_name").String(),
		Input:     json.RawMessage(input.Raw),
		ToolUseID: gjson.GetBytes(line, "request.tool_use_id").String(),
	}
	if !input.Exists() {
		req.Input = json.RawMessage(`{}`)
	}

	if p.opts.CanUseTool == nil {
		p.respondDecision(requestID, Deny("permission prompts are not available"), req.Input)
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.inFlight[requestID] = cancel
	p.mu.Unlock()

	go func() {
		defer p.finishControlRequest(requestID)

		decision, err := p.opts.CanUseTool(ctx, req)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.respondError(requestID, err.Error())
			return
		}
		p.respondDecision(requestID, decision, req.Input)
	}()
}

func (p *process) finishControlRequest(requestID string) {
	p.mu.Lock()
	cancel, ok := p.inFlight[requestID]
	delete(p.inFlight, requestID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *process) cancelControlRequest(requestID string) {
	p.mu.Lock()
	cancel, ok := p.inFlight[requestID]
	p.mu.Unlock()
	if ok {
		log.Debug().Str("sessionId", p.opts.SessionID).Str("requestId", requestID).Msg("Agent withdrew permission request")
		cancel()
	}
}

func (p *process) cancelAllControlRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.inFlight {
		cancel()
		delete(p.inFlight, id)
	}
}

type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string    `json:"subtype"`
	RequestID string    `json:"request_id"`
	Response  *Decision `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (p *process) respondDecision(requestID string, decision Decision, originalInput json.RawMessage) {
	// The agent requires updatedInput on every allow.
	if decision.Allowed() && len(decision.UpdatedInput) == 0 {
		decision.UpdatedInput = originalInput
	}

	p.respond(controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  &decision,
		},
	})
}

func (p *process) respondError(requestID, message string) {
	p.respond(controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "error",
			RequestID: requestID,
			Error:     message,
		},
	})
}

func (p *process) respond(resp controlResponse) {
	if err := p.writeJSON(resp); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Warn().Err(err).Str("sessionId", p.opts.SessionID).Str("requestId", resp.Response.RequestID).Msg("Failed to answer agent control request")
	}
}

// writeJSON writes v as one line on the agent's stdin.
func (p *process) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode agent input: %w", err)
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write agent input: %w", err)
	}
	return nil
}
