package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/feed"
)

var errChangesClosed = errors.New("store: change feed closed")

// FeedSource serves feed queries from a MessageStore. Every change to the
// room re-runs the query and emits a fresh snapshot.
type FeedSource struct {
	store  MessageStore
	logger zerolog.Logger
}

// NewFeedSource wraps store as a feed.Source.
func NewFeedSource(store MessageStore, logger zerolog.Logger) *FeedSource {
	return &FeedSource{store: store, logger: logger}
}

// Watch implements feed.Source. The change subscription is opened before
// the first query so no write between them goes unseen.
func (f *FeedSource) Watch(ctx context.Context, q feed.Query) (<-chan feed.Snapshot, error) {
	changes, err := f.store.Changes(ctx, q.RoomID)
	if err != nil {
		return nil, err
	}

	out := make(chan feed.Snapshot, 1)
	go func() {
		defer close(out)
		for {
			msgs, err := f.store.GetRoomMessages(ctx, q.RoomID, q.Limit, q.Before)
			if err != nil && ctx.Err() != nil {
				return
			}
			select {
			case out <- feed.Snapshot{Messages: msgs, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				f.logger.Warn().Err(err).Str("room", q.RoomID).Msg("feed query failed")
				return
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					if ctx.Err() == nil {
						select {
						case out <- feed.Snapshot{Err: errChangesClosed}:
						case <-ctx.Done():
						}
					}
					return
				}
			}
		}
	}()
	return out, nil
}
