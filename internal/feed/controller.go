package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// Options configures a Controller.
type Options struct {
	RoomID     string
	PageSize   int           // defaults to DefaultPageSize
	RetryDelay time.Duration // wait before resubscribing after a stream error
	Logger     zerolog.Logger
}

// Controller owns the feed window of one room. At most one watch is active:
// the head view, or the next older page while a load is pending. All state
// changes are serialized by mu.
type Controller struct {
	source   Source
	writer   Writer
	identity Identity
	opts     Options
	logger   zerolog.Logger

	mu        sync.Mutex
	window    Window
	pending   bool
	exhausted bool
	draft     string
	invalid   bool
	lastErr   error
	gen       uint64
	baseCtx   context.Context
	cancel    context.CancelFunc
	retry     *time.Timer
	closed    bool
	wg        sync.WaitGroup

	changes chan struct{}
}

// New creates a controller. identity may be nil, in which case anonymous
// submits fail with an AuthenticationError.
func New(source Source, writer Writer, identity Identity, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.RoomID == "" {
		opts.RoomID = models.GlobalRoomID
	}
	return &Controller{
		source:   source,
		writer:   writer,
		identity: identity,
		opts:     opts,
		logger:   opts.Logger.With().Str("room", opts.RoomID).Logger(),
		changes:  make(chan struct{}, 1),
	}
}

// Start opens the head subscription. ctx bounds every subscription the
// controller creates.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.baseCtx != nil {
		return ErrAlreadyStarted
	}
	c.baseCtx = ctx
	c.observeLocked()
	return nil
}

// Close tears down the active subscription and waits for it to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Changes signals that the window, draft or error state changed. Signals
// are coalesced; read the state through the accessors.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// RequestOlderPage asks for the page before the cursor. It returns false
// without doing anything while a page is pending, before the first
// message arrived, or once history is exhausted.
func (c *Controller) RequestOlderPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.baseCtx == nil || c.pending || c.exhausted || c.window.Len() == 0 {
		return false
	}
	c.pending = true
	c.observeLocked()
	c.notify()
	return true
}

// observeLocked replaces the active subscription with the configuration
// implied by the current state.
func (c *Controller) observeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	gen := c.gen

	q := Query{RoomID: c.opts.RoomID, Limit: c.opts.PageSize}
	extend := false
	if c.pending {
		if oldest, ok := c.window.Oldest(); ok {
			q.Before = oldest.CreatedAt
			extend = true
		}
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel

	c.logger.Debug().
		Uint64("gen", gen).
		Int("limit", q.Limit).
		Int64("before", q.Before).
		Msg("subscribing")

	c.wg.Add(1)
	go c.consume(ctx, gen, q, extend)
}

func (c *Controller) consume(ctx context.Context, gen uint64, q Query, extend bool) {
	defer c.wg.Done()

	stream, err := c.source.Watch(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(gen, err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-stream:
			if !ok {
				if ctx.Err() == nil {
					c.fail(gen, errStreamClosed)
				}
				return
			}
			if snap.Err != nil {
				c.fail(gen, snap.Err)
				return
			}
			c.apply(gen, q, extend, snap.Messages)
		}
	}
}

func (c *Controller) apply(gen uint64, q Query, extend bool, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	c.lastErr = nil

	if extend {
		c.window.MergeOlder(msgs, q.Before, q.Limit)
		c.exhausted = c.window.Complete()
		c.pending = false
		c.logger.Debug().
			Int("received", len(msgs)).
			Int("window", c.window.Len()).
			Bool("exhausted", c.exhausted).
			Msg("older page loaded")
		// Back to the live head view.
		c.observeLocked()
	} else {
		if c.window.MergeHead(msgs, q.Limit) {
			c.logger.Debug().Msg("head moved past window, restarted")
		}
		c.exhausted = c.window.Complete()
	}
	c.notify()
}

// fail tears down the subscription of generation gen and schedules a new
// head subscription.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	c.logger.Warn().Err(err).Bool("pending", c.pending).Msg("subscription failed")

	c.lastErr = err
	c.pending = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	retryGen := c.gen
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.opts.RetryDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.gen != retryGen {
			return
		}
		c.observeLocked()
	})
	c.notify()
}

// Submit validates raw, signs in when actor is nil, and appends the
// message. The new message shows up through the subscription only.
func (c *Controller) Submit(ctx context.Context, raw string, actor *Actor) error {
	body := Sanitize(raw)
	if body == "" {
		c.mu.Lock()
		c.invalid = true
		c.notify()
		c.mu.Unlock()
		return &ValidationError{Reason: "message is empty"}
	}

	if actor == nil {
		var err error
		actor, err = c.signIn(ctx)
		if err != nil {
			c.setErr(err)
			return err
		}
	}

	msg := &models.Message{
		ID:       ulid.Make().String(),
		RoomID:   c.opts.RoomID,
		AuthorID: actor.ID,
		Body:     body,
	}
	if err := c.writer.AddMessage(ctx, msg); err != nil {
		c.logger.Warn().Err(err).Str("id", msg.ID).Msg("send failed")
		werr := &WriteError{Err: err}
		c.setErr(werr)
		return werr
	}

	c.mu.Lock()
	if c.draft == raw {
		c.draft = ""
	}
	c.invalid = false
	c.lastErr = nil
	c.notify()
	c.mu.Unlock()

	c.logger.Debug().Str("id", msg.ID).Str("author", actor.ID).Msg("message sent")
	return nil
}

// SubmitDraft submits the current draft as the current actor, both read at
// call time.
func (c *Controller) SubmitDraft(ctx context.Context) error {
	c.mu.Lock()
	text := c.draft
	c.mu.Unlock()

	var actor *Actor
	if c.identity != nil {
		actor = c.identity.Current()
	}
	return c.Submit(ctx, text, actor)
}

func (c *Controller) signIn(ctx context.Context) (*Actor, error) {
	if c.identity == nil {
		return nil, &AuthenticationError{Message: "sign-in is not available"}
	}
	res, err := c.identity.SignIn(ctx)
	if err != nil {
		return nil, &AuthenticationError{Message: err.Error()}
	}
	if res.Status != http.StatusOK {
		return nil, &AuthenticationError{Status: res.Status, Message: res.Message}
	}
	actor := c.identity.Current()
	if actor == nil {
		return nil, &AuthenticationError{Status: res.Status, Message: "sign-in returned no identity"}
	}
	c.logger.Info().Str("actor", actor.ID).Msg("signed in")
	return actor, nil
}

// SetDraft replaces the input buffer and clears its invalid mark.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
	c.invalid = false
}

// Draft returns the input buffer and whether the last submit rejected it.
func (c *Controller) Draft() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft, c.invalid
}

// Messages returns the window, newest first.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Items()
}

// Cursor returns the ordering key of the oldest loaded message.
func (c *Controller) Cursor() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldest, ok := c.window.Oldest()
	return oldest.CreatedAt, ok
}

// Pending reports whether an older page has been requested and not yet
// delivered.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Exhausted reports whether the window already reaches the oldest message.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Err returns the last subscription or submit error, cleared by the next
// successful snapshot or send.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.notify()
	c.mu.Unlock()
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
