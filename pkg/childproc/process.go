package childproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creachadair/jrpc2"

	"github.com/katello/grinder/pkg/logger"
)

// maxRespawns bounds the transparent respawn-and-retry attempted when the
// pipe to a child breaks mid-call.
const maxRespawns = 3

// Spawner builds the *exec.Cmd for one child process instance. The command
// must, when run, end up calling Serve with the wrapped Capability -- in
// practice this is the calling binary re-invoked with a hidden flag or
// subcommand, the same shape cmd/daemon.go uses to background itself.
type Spawner func() (*exec.Cmd, error)

// Process is the parent-side handle for a ChildProcess/ActiveObject
// session: it owns the subprocess, the framed RPC channel to it, and the
// mutex that keeps calls on one instance serial: calls on a given
// Process are mutexed, never interleaved.
type Process struct {
	spawn   Spawner
	parent  ParentMethods
	log     logger.Logger
	logSink LogSink

	mu    sync.Mutex
	state json.RawMessage

	procMu sync.Mutex
	cmd    *exec.Cmd
	client *jrpc2.Client
	ch     *pipeChannel
}

// New builds a Process. parent may be nil if the wrapped object never
// calls back (PMETHOD); logSink may be nil to discard LOG records.
func New(spawn Spawner, parent ParentMethods, logSink LogSink, log logger.Logger) *Process {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Process{spawn: spawn, parent: parent, log: log, logSink: logSink}
}

// Call invokes method on the wrapped object inside its child process,
// unmarshaling the result into out (which may be nil). On success the
// process's mirrored state is updated from the child's reply, so fields
// the child mutates stay visible to the parent between calls.
func (p *Process) Call(ctx context.Context, method string, params, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("childproc: marshal params for %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRespawns; attempt++ {
		if attempt > 0 {
			p.log.Warning("childproc: respawning after broken pipe (attempt %d/%d): %v", attempt, maxRespawns, lastErr)
		}
		result, state, err := p.callOnce(ctx, method, encodedParams)
		if err == nil {
			p.state = state
			if out != nil && len(result) > 0 {
				if err := json.Unmarshal(result, out); err != nil {
					return fmt.Errorf("childproc: unmarshal result of %s: %w", method, err)
				}
			}
			return nil
		}
		lastErr = err
		// jrpc2 cancels a pending call when its channel dies, so a
		// context.Canceled the caller did not cause means the child is gone.
		channelDied := errors.Is(err, context.Canceled) && ctx.Err() == nil
		if !isBrokenPipe(err) && !channelDied {
			return err
		}
		p.Abort()
	}
	return fmt.Errorf("childproc: %s failed after %d respawns: %w", method, maxRespawns, lastErr)
}

// callOnce ensures a live child process, issues one Invoke RPC, and
// returns its result/state. Broken-pipe errors are returned unwrapped so
// Call can tell them apart from a normal method-level error for the
// respawn decision.
func (p *Process) callOnce(ctx context.Context, method string, params json.RawMessage) (result, state json.RawMessage, err error) {
	if err := p.ensureStartedLocked(); err != nil {
		return nil, nil, err
	}

	rsp, err := p.client.Call(ctx, "Invoke", invokeParams{Method: method, Params: params})
	if err != nil {
		return nil, nil, err
	}
	var out invokeResult
	if err := rsp.UnmarshalResult(&out); err != nil {
		return nil, nil, err
	}
	return out.Result, out.State, nil
}

// ensureStartedLocked spawns the child process and its jrpc2.Client if
// neither is already running. Caller must hold p.mu via the surrounding
// Call (procMu itself is taken inside this function for the narrower
// critical section around process/channel construction).
func (p *Process) ensureStartedLocked() error {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.client != nil {
		return nil
	}

	cmd, err := p.spawn()
	if err != nil {
		return fmt.Errorf("childproc: build command: %w", err)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("childproc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("childproc: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("childproc: start: %w", err)
	}

	ch := newPipeChannel(stdout, stdin)
	client := jrpc2.NewClient(ch, &jrpc2.ClientOptions{
		OnNotify:   p.handleNotify,
		OnCallback: p.handleCallback,
	})

	p.cmd = cmd
	p.ch = ch
	p.client = client
	return nil
}

// handleNotify receives a child's LOG push and forwards it to logSink.
func (p *Process) handleNotify(req *jrpc2.Request) {
	if req.Method() != "Log" || p.logSink == nil {
		return
	}
	var lp logParams
	if err := req.UnmarshalParams(&lp); err != nil {
		return
	}
	p.logSink.Log(lp.Logger, lp.Level, lp.Message)
}

// handleCallback receives a child's PMETHOD request and dispatches it into
// the parent object supplied at construction, returning its result as the
// callback's reply.
func (p *Process) handleCallback(ctx context.Context, req *jrpc2.Request) (any, error) {
	if req.Method() != "PMethod" || p.parent == nil {
		return nil, fmt.Errorf("childproc: no parent method handler for %q", req.Method())
	}
	var pp pmethodParams
	if err := req.UnmarshalParams(&pp); err != nil {
		return nil, err
	}
	result, err := p.parent.Invoke(ctx, pp.Method, pp.Params)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Abort kills the child process group immediately and closes the
// channel; any in-flight Call returns an error. Safe to call concurrently
// with Call and idempotent.
func (p *Process) Abort() {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	p.killLocked()
}

// killLocked tears down the current process and channel. Caller must hold
// procMu.
func (p *Process) killLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		killProcessGroup(p.cmd)
		_ = p.cmd.Wait()
	}
	p.cmd = nil
}

// Close is an alias for Abort used when the Process is discarded cleanly
// rather than mid-call.
func (p *Process) Close() error {
	p.Abort()
	return nil
}

// State returns the object's most recently mirrored state snapshot, for a
// caller that wants to persist or inspect it between syncs.
func (p *Process) State() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState replaces the parent-side state snapshot that State returns.
// The snapshot is not sent to the child: a spawned child starts from
// whatever restoreState its own entrypoint passes to Serve, and the next
// successful Call overwrites the snapshot with the child's reply.
func (p *Process) SetState(state json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// isBrokenPipe reports whether err means the pipe to the child is gone --
// either a raw EOF/EPIPE from the pipe itself, or jrpc2's client-side
// wrapper for a channel that terminated with a call in flight. Method-level
// errors returned by the child's Capability never match.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errIsSyscall(err, syscall.EPIPE) || errIsSyscall(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	for _, pattern := range []string{"EOF", "broken pipe", "connection is closed", "channel closed", "client is closed"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
