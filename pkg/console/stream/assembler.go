package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

const defaultReadBuffer = 4096

// QueryClient opens the reply stream for one query.
type QueryClient interface {
	Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error)
}

// Log is the subset of the conversation store a turn writes to.
type Log interface {
	Append(mode console.Mode, msg console.Message) (int, error)
	ReplaceLast(mode console.Mode, msg console.Message) bool
}

type Request struct {
	SessionID string
	Mode      console.Mode
	Query     string
}

// Result is the terminal state of a turn. SessionID is the session the turn
// was sent in, which a later reset does not change.
type Result struct {
	SessionID string
	Mode      console.Mode
	Ordinal   int
	Content   console.Content
	Chunks    int
	Elapsed   time.Duration
	Err       error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

type Option func(*Assembler)

// WithTimeout bounds a whole turn, stream included.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.timeout = d }
}

func WithReadBuffer(size int) Option {
	return func(a *Assembler) {
		if size > 0 {
			a.bufSize = size
		}
	}
}

// WithCompletionHook runs fn after each turn settles, once the mode token is released.
func WithCompletionHook(fn func(Result)) Option {
	return func(a *Assembler) { a.hooks = append(a.hooks, fn) }
}

// Assembler drives turns: it appends the user message and an empty assistant
// placeholder, consumes the reply stream, and settles the placeholder.
type Assembler struct {
	client   QueryClient
	log      Log
	inflight *InFlight
	logger   logger.ILogger
	timeout  time.Duration
	bufSize  int
	hooks    []func(Result)
}

func NewAssembler(client QueryClient, log Log, inflight *InFlight, lg logger.ILogger, opts ...Option) *Assembler {
	if inflight == nil {
		inflight = NewInFlight()
	}
	a := &Assembler{
		client:   client,
		log:      log,
		inflight: inflight,
		logger:   lg,
		bufSize:  defaultReadBuffer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assembler) InFlight() *InFlight {
	return a.inflight
}

// Open claims the mode token and writes the user message and placeholder.
// The returned turn must be Run exactly once.
func (a *Assembler) Open(req Request) (*Turn, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", console.ErrUnknownMode, req.Mode)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, console.ErrEmptyQuery
	}
	if !a.inflight.TryAcquire(req.Mode) {
		return nil, console.ErrTurnInFlight
	}

	if _, err := a.log.Append(req.Mode, console.UserMessage(query)); err != nil {
		a.inflight.Release(req.Mode)
		return nil, err
	}
	ordinal, err := a.log.Append(req.Mode, console.AssistantMessage(console.TextContent("")))
	if err != nil {
		a.inflight.Release(req.Mode)
		return nil, err
	}

	req.Query = query
	return &Turn{a: a, req: req, ordinal: ordinal, done: make(chan struct{})}, nil
}

// Send runs a turn to completion on the calling goroutine.
func (a *Assembler) Send(ctx context.Context, req Request) (Result, error) {
	turn, err := a.Open(req)
	if err != nil {
		return Result{}, err
	}
	return turn.Run(ctx), nil
}

// Start opens a turn and runs it in the background. ctx should outlive the
// caller's request; cancelling it fails the turn.
func (a *Assembler) Start(ctx context.Context, req Request) (*Turn, error) {
	turn, err := a.Open(req)
	if err != nil {
		return nil, err
	}
	go turn.Run(ctx)
	return turn, nil
}

// Turn is one open query/response exchange bound to the mode it was sent in.
type Turn struct {
	a       *Assembler
	req     Request
	ordinal int
	done    chan struct{}
	result  Result
}

func (t *Turn) Mode() console.Mode {
	return t.req.Mode
}

// Ordinal is the position of the assistant placeholder.
func (t *Turn) Ordinal() int {
	return t.ordinal
}

func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result is valid once Done is closed.
func (t *Turn) Result() Result {
	<-t.done
	return t.result
}

func (t *Turn) Run(ctx context.Context) Result {
	defer close(t.done)
	res := t.settle(ctx)
	for _, hook := range t.a.hooks {
		hook(res)
	}
	return res
}

// settle consumes the stream and frees the mode token on every exit path.
func (t *Turn) settle(ctx context.Context) Result {
	start := time.Now()
	mode := t.req.Mode
	defer t.a.inflight.Release(mode)

	res := t.consume(ctx)
	res.SessionID = t.req.SessionID
	res.Mode = mode
	res.Ordinal = t.ordinal
	res.Elapsed = time.Since(start)
	t.result = res

	if res.Err != nil {
		t.a.logger.Warn("STREAM", "Turn failed", map[string]interface{}{
			"mode":       mode.String(),
			"session_id": t.req.SessionID,
			"chunks":     res.Chunks,
			"error":      res.Err.Error(),
		})
	} else {
		t.a.logger.Info("STREAM", "Turn completed", map[string]interface{}{
			"mode":       mode.String(),
			"session_id": t.req.SessionID,
			"chunks":     res.Chunks,
			"kind":       string(res.Content.Kind),
			"elapsed_ms": res.Elapsed.Milliseconds(),
		})
	}
	return res
}

func (t *Turn) consume(ctx context.Context) Result {
	mode := t.req.Mode

	if t.a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.a.timeout)
		defer cancel()
	}

	body, err := t.a.client.Query(ctx, t.req.SessionID, mode, t.req.Query)
	if err != nil {
		return t.fail(0, err)
	}
	if body == nil {
		return t.fail(0, errors.New("backend returned no reply stream"))
	}
	defer body.Close()

	var (
		acc    []byte
		chunks int
		buf    = make([]byte, t.a.bufSize)
	)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			chunks++
			// Tabular replies render progressively
			if mode == console.ModeTabular {
				t.a.log.ReplaceLast(mode, console.AssistantMessage(console.TextContent(string(acc))))
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return t.fail(chunks, rerr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return t.fail(chunks, ctxErr)
		}
	}

	if mode == console.ModeTabular {
		return Result{Content: console.TextContent(string(acc)), Chunks: chunks}
	}

	content, perr := ParseStructured(acc)
	if perr != nil {
		t.a.logger.Debug("STREAM", "Reply is not structured, keeping raw text", map[string]interface{}{
			"mode":  mode.String(),
			"error": perr.Error(),
		})
	}
	t.a.log.ReplaceLast(mode, console.AssistantMessage(content))
	return Result{Content: content, Chunks: chunks}
}

// fail settles the placeholder with a single error message. Partial text is
// discarded, never merged with the marker.
func (t *Turn) fail(chunks int, cause error) Result {
	content := console.ErrorContent(console.StreamFailureText)
	t.a.log.ReplaceLast(t.req.Mode, console.AssistantMessage(content))

	err := cause
	if !errors.Is(cause, console.ErrStream) {
		err = fmt.Errorf("%w: %w", console.ErrStream, cause)
	}
	return Result{Content: content, Chunks: chunks, Err: err}
}
