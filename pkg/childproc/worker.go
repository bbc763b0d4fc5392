package childproc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
)

// Serve runs cap as the child side of a ChildProcess RPC session, reading
// requests from os.Stdin and writing replies/pushes to os.Stdout until the
// channel closes. It blocks until the session ends (the parent closes the pipe or
// the process is signaled to exit) and is the whole body of a re-exec'd
// child process's main function.
//
// restoreState, when non-nil, is applied via cap.Restore before serving
// the first request. It is supplied by the child's own entrypoint; Process
// does not send its mirrored state to the child.
func Serve(cap Capability, restoreState json.RawMessage) error {
	if restoreState != nil {
		if err := cap.Restore(restoreState); err != nil {
			return fmt.Errorf("childproc: restore state: %w", err)
		}
	}

	w := &worker{cap: cap}
	ch := newPipeChannel(os.Stdin, os.Stdout)

	srv := jrpc2.NewServer(handler.Map{
		"Invoke": handler.New(w.handleInvoke),
	}, &jrpc2.ServerOptions{AllowPush: true})
	w.srv = srv

	if wa, ok := cap.(WorkerAware); ok {
		wa.SetWorker(w)
	}

	srv.Start(ch)
	return srv.Wait()
}

// Worker is the subset of the child-side RPC session a Capability may use
// to push a LOG record or issue a PMETHOD callback while one of its Invoke
// calls is in flight. *worker satisfies it.
type Worker interface {
	Log(ctx context.Context, loggerName string, level LogLevel, message string)
	CallParent(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// WorkerAware is an optional capability a Capability implementation can
// satisfy to receive the live Worker handle before Serve starts accepting
// requests, the same opt-in-interface shape pkg/fetchengine's HeaderSource
// uses for a capability most implementations don't need.
type WorkerAware interface {
	SetWorker(Worker)
}

// worker is the child-side RPC handler. It holds the one jrpc2.Server
// created for this process so handleInvoke can push LOG notifications and
// PMETHOD callbacks to the parent while a call is in flight.
type worker struct {
	cap Capability
	srv *jrpc2.Server
}

func (w *worker) handleInvoke(ctx context.Context, p *invokeParams) (*invokeResult, error) {
	result, err := w.cap.Invoke(ctx, p.Method, p.Params)
	if err != nil {
		return nil, err
	}
	state, serr := w.cap.State()
	if serr != nil {
		return nil, fmt.Errorf("childproc: snapshot state after %s: %w", p.Method, serr)
	}
	return &invokeResult{Result: result, State: state}, nil
}

// Log pushes a LOG record to the parent via a jrpc2 notification (no
// reply expected): the child asks the parent to log a record on its
// behalf, and the parent writes it and keeps reading.
func (w *worker) Log(ctx context.Context, loggerName string, level LogLevel, message string) {
	if w.srv == nil {
		return
	}
	_ = w.srv.Notify(ctx, "Log", logParams{Logger: loggerName, Level: level, Message: message})
}

// CallParent invokes a PMETHOD hook back in the parent and waits for its
// result, using jrpc2's server-to-client callback feature.
func (w *worker) CallParent(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if w.srv == nil {
		return nil, fmt.Errorf("childproc: worker not serving")
	}
	rsp, err := w.srv.Callback(ctx, "PMethod", pmethodParams{Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := rsp.UnmarshalResult(&out); err != nil {
		return nil, err
	}
	return out, nil
}
