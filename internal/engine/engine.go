// Package engine routes host lifecycle signals to the component that owns
// them.
package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/internal/control"
	"github.com/briangreenhill/streamsync/internal/dispatch"
	"github.com/briangreenhill/streamsync/internal/lifecycle"
	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
	"github.com/briangreenhill/streamsync/internal/strategy"
)

// Event is a signal from the host environment. The set is closed.
type Event interface {
	event()
}

// Install installs a version and activates it without waiting. With Wait
// set the version stays installed until an Activate or ForceActivateNow.
type Install struct {
	Version string
	Wait    bool
}

// Activate activates a waiting version, if any
type Activate struct{}

// Fetch is an intercepted request
type Fetch struct{ Request *http.Request }

// Sync is a reconnect signal for one queue tag
type Sync struct{ Tag string }

// Message is a control channel command
type Message struct{ Message control.Message }

func (Install) event()  {}
func (Activate) event() {}
func (Fetch) event()    {}
func (Sync) event()     {}
func (Message) event()  {}

// Result carries whatever the handled event produced
type Result struct {
	Install *lifecycle.InstallResult
	// Outcome is set for Fetch events the layer handled. Handled is false
	// when the request should go to the network untouched.
	Outcome *strategy.Outcome
	Handled bool
	Drain   *queue.DrainReport
	Flush   *progress.FlushReport
	Reply   *control.Reply
}

type Options struct {
	Lifecycle  *lifecycle.Manager
	Dispatcher *dispatch.Dispatcher
	Queue      *queue.Queue
	Progress   *progress.Buffer
	Control    *control.Handler
	Logger     zerolog.Logger
}

type Engine struct {
	lifecycle  *lifecycle.Manager
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	progress   *progress.Buffer
	control    *control.Handler
	logger     zerolog.Logger
}

func New(opts Options) *Engine {
	return &Engine{
		lifecycle:  opts.Lifecycle,
		dispatcher: opts.Dispatcher,
		queue:      opts.Queue,
		progress:   opts.Progress,
		control:    opts.Control,
		logger:     opts.Logger,
	}
}

// Handle dispatches ev
func (e *Engine) Handle(ctx context.Context, ev Event) (Result, error) {
	switch ev := ev.(type) {
	case Install:
		if ev.Wait {
			_, res := e.lifecycle.Install(ctx, ev.Version)
			return Result{Install: &res}, nil
		}
		res, err := e.lifecycle.Deploy(ctx, ev.Version)
		return Result{Install: &res}, err

	case Activate:
		return Result{}, e.lifecycle.SkipWaiting(ctx)

	case Fetch:
		out, handled := e.dispatcher.Intercept(ctx, ev.Request)
		if !handled {
			return Result{}, nil
		}
		return Result{Outcome: &out, Handled: true}, nil

	case Sync:
		return e.sync(ctx, ev.Tag)

	case Message:
		reply, err := e.control.Handle(ctx, ev.Message)
		return Result{Reply: reply}, err

	default:
		return Result{}, fmt.Errorf("unhandled event %T", ev)
	}
}

// Sync drains the tag's queue. For the progress tag the progress buffer is
// flushed after the drain.
func (e *Engine) sync(ctx context.Context, tag string) (Result, error) {
	report, err := e.queue.Drain(ctx, tag)
	if err != nil {
		return Result{Drain: &report}, fmt.Errorf("drain %s: %w", tag, err)
	}
	res := Result{Drain: &report}
	if tag != queue.TagProgress || e.progress == nil {
		return res, nil
	}

	flush, err := e.progress.FlushAll(ctx)
	res.Flush = &flush
	if err != nil {
		return res, fmt.Errorf("flush progress: %w", err)
	}
	return res, nil
}

// Drain implements jobs.Drainer
func (e *Engine) Drain(ctx context.Context, tag string) error {
	_, err := e.sync(ctx, tag)
	return err
}
