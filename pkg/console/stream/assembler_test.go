package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/conversation"
)

// chunkReader yields one chunk per Read call, then fails or hits EOF.
type chunkReader struct {
	chunks []string
	err    error
	gate   chan struct{}
	i      int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.gate != nil {
		<-r.gate
		r.gate = nil
	}
	if r.i < len(r.chunks) {
		n := copy(p, r.chunks[r.i])
		r.i++
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

func (r *chunkReader) Close() error { return nil }

type fakeClient struct {
	mu      sync.Mutex
	readers map[console.Mode]*chunkReader
	openErr error
	calls   int
}

func (f *fakeClient) Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.readers[mode], nil
}

type recorder struct {
	mu      sync.Mutex
	updates []conversation.Update
}

func (r *recorder) observe(u conversation.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) replaces(mode console.Mode) []conversation.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Update
	for _, u := range r.updates {
		if u.Mode == mode && u.Op == conversation.OpReplace {
			out = append(out, u)
		}
	}
	return out
}

func newHarness(client QueryClient) (*Assembler, *conversation.Store, *recorder) {
	rec := &recorder{}
	store := conversation.NewStore(rec.observe)
	return NewAssembler(client, store, NewInFlight(), logger.NewNop()), store, rec
}

func TestAssembler_TabularReplacesOncePerChunk(t *testing.T) {
	chunks := []string{"The ", "average ", "is ", "42."}
	client := &fakeClient{readers: map[console.Mode]*chunkReader{
		console.ModeTabular: {chunks: chunks},
	}}
	a, store, rec := newHarness(client)

	res, err := a.Send(context.Background(), Request{SessionID: "s1", Mode: console.ModeTabular, Query: "avg?"})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	replaces := rec.replaces(console.ModeTabular)
	require.Len(t, replaces, len(chunks))
	assert.Equal(t, "The ", replaces[0].Message.Content.Text)
	assert.Equal(t, "The average ", replaces[1].Message.Content.Text)
	assert.Equal(t, "The average is 42.", replaces[3].Message.Content.Text)

	log := store.Get(console.ModeTabular)
	require.Len(t, log, 2)
	assert.Equal(t, console.RoleUser, log[0].Role)
	assert.Equal(t, "avg?", log[0].Content.Text)
	assert.Equal(t, console.RoleAssistant, log[1].Role)
	assert.Equal(t, strings.Join(chunks, ""), log[1].Content.Text)
	assert.Equal(t, console.KindText, log[1].Content.Kind)
	assert.False(t, a.InFlight().Active(console.ModeTabular))
}

func TestAssembler_StructuredReplies(t *testing.T) {
	tests := []struct {
		name      string
		mode      console.Mode
		chunks    []string
		wantKind  console.ContentKind
		wantText  string
		wantTitle string
	}{
		{
			name:      "relational chart in string content",
			mode:      console.ModeRelational,
			chunks:    []string{`{"role":"assistant","content":"{\"chart_type\":\"bar\",`, `\"x\":[\"a\",\"b\"],\"y\":[1,2],\"title\":\"Sales\"}"}`},
			wantKind:  console.KindChart,
			wantTitle: "Sales",
		},
		{
			name:     "document record",
			mode:     console.ModeDocument,
			chunks:   []string{`{"role":"assistant",`, `"content":"Section 3 covers refunds."}`},
			wantKind: console.KindRecord,
			wantText: "Section 3 covers refunds.",
		},
		{
			name:     "malformed payload falls back to raw text",
			mode:     console.ModeRelational,
			chunks:   []string{"not ", "json"},
			wantKind: console.KindText,
			wantText: "not json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{readers: map[console.Mode]*chunkReader{tt.mode: {chunks: tt.chunks}}}
			a, store, rec := newHarness(client)

			res, err := a.Send(context.Background(), Request{SessionID: "s1", Mode: tt.mode, Query: "q"})
			require.NoError(t, err)
			require.NoError(t, res.Err)

			// exactly one terminal replace regardless of chunk count
			require.Len(t, rec.replaces(tt.mode), 1)

			msg, ok := store.Message(tt.mode, 1)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, msg.Content.Kind)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, msg.Content.Text)
			}
			if tt.wantTitle != "" {
				require.NotNil(t, msg.Content.Chart)
				assert.Equal(t, tt.wantTitle, msg.Content.Chart.Title)
			}
		})
	}
}

func TestAssembler_FailureSettlesWithSingleErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		mode   console.Mode
		client *fakeClient
	}{
		{
			name:   "open fails",
			mode:   console.ModeRelational,
			client: &fakeClient{openErr: errors.New("dial tcp: refused")},
		},
		{
			name: "tabular stream breaks mid-way",
			mode: console.ModeTabular,
			client: &fakeClient{readers: map[console.Mode]*chunkReader{
				console.ModeTabular: {chunks: []string{"partial "}, err: errors.New("connection reset")},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, store, rec := newHarness(tt.client)

			res, err := a.Send(context.Background(), Request{Mode: tt.mode, Query: "q"})
			require.NoError(t, err)
			assert.ErrorIs(t, res.Err, console.ErrStream)

			log := store.Get(tt.mode)
			require.Len(t, log, 2)
			assert.Equal(t, console.KindError, log[1].Content.Kind)
			assert.Equal(t, console.StreamFailureText, log[1].Content.Text)

			errorReplaces := 0
			for _, u := range rec.replaces(tt.mode) {
				if u.Message.Content.IsError() {
					errorReplaces++
				}
			}
			assert.Equal(t, 1, errorReplaces)
			assert.False(t, a.InFlight().Active(tt.mode))
		})
	}
}

func TestAssembler_RejectsSecondTurnInSameMode(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{readers: map[console.Mode]*chunkReader{
		console.ModeRelational: {chunks: []string{`{"role":"assistant","content":"ok"}`}, gate: gate},
	}}
	a, store, _ := newHarness(client)

	turn, err := a.Start(context.Background(), Request{Mode: console.ModeRelational, Query: "first"})
	require.NoError(t, err)

	_, err = a.Start(context.Background(), Request{Mode: console.ModeRelational, Query: "second"})
	assert.ErrorIs(t, err, console.ErrTurnInFlight)
	assert.Equal(t, 2, store.Len(console.ModeRelational))

	close(gate)
	res := turn.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, console.KindRecord, res.Content.Kind)

	_, err = a.Send(context.Background(), Request{Mode: console.ModeRelational, Query: "third"})
	assert.NotErrorIs(t, err, console.ErrTurnInFlight)
}

func TestAssembler_ModesDoNotBlockEachOther(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{readers: map[console.Mode]*chunkReader{
		console.ModeRelational: {chunks: []string{`{"role":"assistant","content":"slow"}`}, gate: gate},
		console.ModeTabular:    {chunks: []string{"fast"}},
	}}
	a, store, _ := newHarness(client)

	slow, err := a.Start(context.Background(), Request{Mode: console.ModeRelational, Query: "q1"})
	require.NoError(t, err)

	res, err := a.Send(context.Background(), Request{Mode: console.ModeTabular, Query: "q2"})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, a.InFlight().Active(console.ModeRelational))

	close(gate)
	<-slow.Done()

	// the background reply lands in the mode it was sent from
	rel := store.Get(console.ModeRelational)
	require.Len(t, rel, 2)
	assert.Equal(t, "slow", rel[1].Content.Text)
	tab := store.Get(console.ModeTabular)
	require.Len(t, tab, 2)
	assert.Equal(t, "fast", tab[1].Content.Text)
}

func TestAssembler_EmptyQueryRejected(t *testing.T) {
	a, store, _ := newHarness(&fakeClient{})
	_, err := a.Send(context.Background(), Request{Mode: console.ModeTabular, Query: "   "})
	assert.ErrorIs(t, err, console.ErrEmptyQuery)
	assert.Equal(t, 0, store.Len(console.ModeTabular))
}

func TestAssembler_TimeoutFailsTurn(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	client := &blockingClient{gate: gate}
	store := conversation.NewStore()
	a := NewAssembler(client, store, nil, logger.NewNop(), WithTimeout(20*time.Millisecond))

	res, err := a.Send(context.Background(), Request{Mode: console.ModeDocument, Query: "q"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, console.ErrStream)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestAssembler_CompletionHookSeesResult(t *testing.T) {
	client := &fakeClient{readers: map[console.Mode]*chunkReader{console.ModeTabular: {chunks: []string{"hi"}}}}
	var got []Result
	a := NewAssembler(client, conversation.NewStore(), nil, logger.NewNop(), WithCompletionHook(func(r Result) {
		got = append(got, r)
	}))

	_, err := a.Send(context.Background(), Request{SessionID: "ds_1", Mode: console.ModeTabular, Query: "q"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ds_1", got[0].SessionID)
	assert.Equal(t, 1, got[0].Ordinal)
	assert.Equal(t, 1, got[0].Chunks)
}

// blockingClient holds the stream open until the context ends.
type blockingClient struct {
	gate chan struct{}
}

func (b *blockingClient) Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error) {
	return &ctxReader{ctx: ctx, gate: b.gate}, nil
}

type ctxReader struct {
	ctx  context.Context
	gate chan struct{}
}

func (r *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	case <-r.gate:
		return 0, io.EOF
	}
}

func (r *ctxReader) Close() error { return nil }

// streamFunc adapts a function to QueryClient.
type streamFunc func() (io.ReadCloser, error)

func (f streamFunc) Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error) {
	return f()
}

type explodingReader struct{}

func (explodingReader) Read(p []byte) (int, error) { panic("decoder blew up") }
func (explodingReader) Close() error               { return nil }

func TestAssembler_PanicInStreamStillReleasesMode(t *testing.T) {
	client := streamFunc(func() (io.ReadCloser, error) { return explodingReader{}, nil })
	a := NewAssembler(client, conversation.NewStore(), nil, logger.NewNop())

	turn, err := a.Open(Request{Mode: console.ModeTabular, Query: "q"})
	require.NoError(t, err)
	require.True(t, a.InFlight().Active(console.ModeTabular))

	assert.Panics(t, func() { turn.Run(context.Background()) })
	assert.False(t, a.InFlight().Active(console.ModeTabular))

	select {
	case <-turn.Done():
	default:
		t.Fatal("turn not marked done after panic")
	}
}

func TestAssembler_MissingReplyStreamFailsTurn(t *testing.T) {
	client := streamFunc(func() (io.ReadCloser, error) { return nil, nil })
	store := conversation.NewStore()
	a := NewAssembler(client, store, nil, logger.NewNop())

	res, err := a.Send(context.Background(), Request{Mode: console.ModeDocument, Query: "q"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, console.ErrStream)
	assert.Equal(t, console.KindError, store.Get(console.ModeDocument)[1].Content.Kind)
	assert.False(t, a.InFlight().Active(console.ModeDocument))
}
