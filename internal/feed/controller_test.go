package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/pagechat/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeWatch struct {
	q   Query
	ctx context.Context
	ch  chan Snapshot
}

type fakeSource struct {
	mu      sync.Mutex
	watches []*fakeWatch
}

func (s *fakeSource) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	w := &fakeWatch{q: q, ctx: ctx, ch: make(chan Snapshot, 8)}
	s.mu.Lock()
	s.watches = append(s.watches, w)
	s.mu.Unlock()
	return w.ch, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *fakeSource) extending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.watches {
		if w.q.Before != 0 {
			n++
		}
	}
	return n
}

// watch waits for the n-th subscription (1-based).
func (s *fakeSource) watch(t *testing.T, n int) *fakeWatch {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() >= n }, waitFor, tick)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches[n-1]
}

type fakeWriter struct {
	mu      sync.Mutex
	written []models.Message
	err     error
}

func (w *fakeWriter) AddMessage(_ context.Context, m *models.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, *m)
	return nil
}

func (w *fakeWriter) messages() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Message(nil), w.written...)
}

type fakeIdentity struct {
	mu      sync.Mutex
	actor   *Actor
	result  SignInResult
	signIns int
}

func (f *fakeIdentity) Current() *Actor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actor
}

func (f *fakeIdentity) SignIn(context.Context) (SignInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	if f.result.Status == http.StatusOK {
		f.actor = &Actor{ID: "agent-1"}
	}
	return f.result, nil
}

func newTestController(t *testing.T, identity Identity) (*Controller, *fakeSource, *fakeWriter) {
	t.Helper()
	src := &fakeSource{}
	wr := &fakeWriter{}
	c := New(src, wr, identity, Options{
		PageSize:   20,
		RetryDelay: 10 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c, src, wr
}

func windowLen(c *Controller) func() bool {
	return func() bool { return len(c.Messages()) > 0 }
}

func TestStartSubscribesHead(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	w := src.watch(t, 1)
	assert.Equal(t, Query{RoomID: models.GlobalRoomID, Limit: 20}, w.q)

	_, ok := c.Cursor()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestRequestOlderPageIsSingleFlight(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	assert.False(t, c.RequestOlderPage(), "no cursor yet")

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)

	require.True(t, c.RequestOlderPage())
	for i := 0; i < 10; i++ {
		assert.False(t, c.RequestOlderPage())
	}

	older := src.watch(t, 2)
	assert.Equal(t, int64(81), older.q.Before)
	assert.True(t, c.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, src.count())
	assert.Equal(t, 1, src.extending())
}

func TestPageLoadMovesCursor(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())

	src.watch(t, 2).ch <- Snapshot{Messages: span(80, 61)}
	require.Eventually(t, func() bool { return !c.Pending() }, waitFor, tick)

	cursor, ok := c.Cursor()
	require.True(t, ok)
	assert.Equal(t, int64(61), cursor)
	assert.Len(t, c.Messages(), 40)

	// The live head view is re-issued once the page is in.
	head := src.watch(t, 3)
	assert.Zero(t, head.q.Before)
	assert.False(t, c.Exhausted())
}

func TestWindowStaysUniqueAcrossSnapshots(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())

	src.watch(t, 2).ch <- Snapshot{Messages: span(82, 63)}
	head := src.watch(t, 3)
	head.ch <- Snapshot{Messages: span(101, 82)}
	head.ch <- Snapshot{Messages: span(102, 83)}

	require.Eventually(t, func() bool {
		items := c.Messages()
		return len(items) > 0 && items[0].CreatedAt == 102
	}, waitFor, tick)

	items := c.Messages()
	assertNoDuplicates(t, items)
	assert.Equal(t, span(102, 63), items)
}

func TestStaleSubscriptionIgnored(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	first := src.watch(t, 1)
	first.ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())
	src.watch(t, 2)

	require.Eventually(t, func() bool { return first.ctx.Err() != nil }, waitFor, tick)
	first.ch <- Snapshot{Messages: span(500, 481)}

	time.Sleep(50 * time.Millisecond)
	items := c.Messages()
	assert.Equal(t, int64(100), items[0].CreatedAt)
}

func TestEmptyOlderPageExhausts(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())

	src.watch(t, 2).ch <- Snapshot{}
	require.Eventually(t, c.Exhausted, waitFor, tick)

	assert.False(t, c.Pending())
	assert.False(t, c.RequestOlderPage())
	assert.Len(t, c.Messages(), 20)
}

func TestShortHeadExhausts(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(3, 1)}
	require.Eventually(t, c.Exhausted, waitFor, tick)
	assert.False(t, c.RequestOlderPage())
}

func TestOlderPageWithRepeatsExhausts(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())

	// Twenty rows but only nineteen distinct messages.
	page := append(span(80, 62), msg(62))
	require.Len(t, page, 20)
	src.watch(t, 2).ch <- Snapshot{Messages: page}
	require.Eventually(t, c.Exhausted, waitFor, tick)

	assert.Len(t, c.Messages(), 39)
	assert.False(t, c.RequestOlderPage())
}

func TestShortHeadWithRepeatsExhausts(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: append(span(3, 1), msg(1))}
	require.Eventually(t, c.Exhausted, waitFor, tick)
	assert.Len(t, c.Messages(), 3)
}

func TestSubscriptionErrorResubscribes(t *testing.T) {
	c, src, _ := newTestController(t, nil)

	src.watch(t, 1).ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, windowLen(c), waitFor, tick)
	require.True(t, c.RequestOlderPage())

	boom := errors.New("boom")
	src.watch(t, 2).ch <- Snapshot{Err: boom}
	require.Eventually(t, func() bool { return errors.Is(c.Err(), boom) }, waitFor, tick)
	assert.False(t, c.Pending(), "a failed page load can be retried")

	retry := src.watch(t, 3)
	assert.Zero(t, retry.q.Before)
	retry.ch <- Snapshot{Messages: span(100, 81)}
	require.Eventually(t, func() bool { return c.Err() == nil }, waitFor, tick)

	assert.True(t, c.RequestOlderPage())
}

func TestSubmitRejectsBlank(t *testing.T) {
	c, _, wr := newTestController(t, nil)

	c.SetDraft("   ")
	err := c.Submit(context.Background(), "   ", &Actor{ID: "agent-1"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, wr.messages())
	_, invalid := c.Draft()
	assert.True(t, invalid)

	c.SetDraft("fixed")
	_, invalid = c.Draft()
	assert.False(t, invalid)
}

func TestSubmitSignsInFirst(t *testing.T) {
	id := &fakeIdentity{result: SignInResult{Status: http.StatusOK}}
	c, _, wr := newTestController(t, id)

	c.SetDraft("  hello ")
	require.NoError(t, c.SubmitDraft(context.Background()))

	written := wr.messages()
	require.Len(t, written, 1)
	assert.Equal(t, "hello", written[0].Body)
	assert.Equal(t, "agent-1", written[0].AuthorID)
	assert.NotEmpty(t, written[0].ID)
	assert.Equal(t, 1, id.signIns)

	draft, _ := c.Draft()
	assert.Empty(t, draft)
	assert.Empty(t, c.Messages(), "no optimistic insert")

	// Signed in now, so the next send skips the handshake.
	c.SetDraft("again")
	require.NoError(t, c.SubmitDraft(context.Background()))
	assert.Equal(t, 1, id.signIns)
}

func TestSubmitSignInDenied(t *testing.T) {
	id := &fakeIdentity{result: SignInResult{Status: http.StatusUnauthorized, Message: "denied"}}
	c, _, wr := newTestController(t, id)

	err := c.Submit(context.Background(), "hello", nil)

	var aerr *AuthenticationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "denied", aerr.Message)
	assert.Equal(t, http.StatusUnauthorized, aerr.Status)
	assert.Empty(t, wr.messages())
}

func TestSubmitWithoutIdentity(t *testing.T) {
	c, _, wr := newTestController(t, nil)

	err := c.Submit(context.Background(), "hello", nil)

	var aerr *AuthenticationError
	require.ErrorAs(t, err, &aerr)
	assert.Empty(t, wr.messages())
}

func TestFailedWriteKeepsDraft(t *testing.T) {
	c, _, wr := newTestController(t, nil)
	wr.err = errors.New("store down")

	c.SetDraft("keep me")
	err := c.Submit(context.Background(), "keep me", &Actor{ID: "agent-1"})

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, wr.err)
	draft, invalid := c.Draft()
	assert.Equal(t, "keep me", draft)
	assert.False(t, invalid)
}

func TestCloseStopsSubscription(t *testing.T) {
	src := &fakeSource{}
	c := New(src, &fakeWriter{}, nil, Options{Logger: zerolog.Nop()})
	require.NoError(t, c.Start(context.Background()))

	w := src.watch(t, 1)
	c.Close()

	assert.Error(t, w.ctx.Err())
	assert.False(t, c.RequestOlderPage())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}
