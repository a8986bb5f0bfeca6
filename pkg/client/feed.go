package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

// DefaultPollInterval is the fallback fetch period for missed live pushes.
const DefaultPollInterval = 60 * time.Second

// NotificationFeed keeps a newest-first notification list and unread counter.
// Live pushes and periodic full fetches may interleave in any order; a
// notification id is only ever counted once.
type NotificationFeed struct {
	api    *API
	logger *slog.Logger

	mu     sync.Mutex
	items  []Notification
	index  map[string]int
	unread int
	onNew  func(Notification)
}

// NewNotificationFeed builds an empty feed. onNew, if set, runs for every
// push that was not already known, outside the feed's lock.
func NewNotificationFeed(api *API, logger *slog.Logger, onNew func(Notification)) *NotificationFeed {
	return &NotificationFeed{api: api, logger: logger, index: map[string]int{}, onNew: onNew}
}

func (f *NotificationFeed) reindex() {
	f.index = make(map[string]int, len(f.items))
	for i, n := range f.items {
		f.index[n.ID] = i
	}
}

// Sync replaces the local state with a full fetch.
func (f *NotificationFeed) Sync(ctx context.Context) error {
	page, err := f.api.Notifications(ctx, false)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.items = page.Notifications
	f.unread = page.UnreadCount
	f.reindex()
	f.mu.Unlock()
	return nil
}

// Apply merges one live push. It reports false for an id already held.
func (f *NotificationFeed) Apply(ev protocol.NewNotification) bool {
	n := notificationFrom(ev)
	f.mu.Lock()
	if _, ok := f.index[n.ID]; ok {
		f.mu.Unlock()
		return false
	}
	f.items = append([]Notification{n}, f.items...)
	f.unread++
	f.reindex()
	f.mu.Unlock()

	if f.onNew != nil {
		f.onNew(n)
	}
	return true
}

// Handle adapts the feed to Conn.Run.
func (f *NotificationFeed) Handle(ev protocol.Outbound) {
	if n, ok := ev.(protocol.NewNotification); ok {
		f.Apply(n)
	}
}

// Poll runs Sync every interval until ctx is done. Fetch errors are logged;
// the next tick retries.
func (f *NotificationFeed) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.Sync(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("Notification poll failed", slog.Any("error", err))
			}
		}
	}
}

func (f *NotificationFeed) MarkRead(ctx context.Context, id string) error {
	if err := f.api.MarkRead(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.index[id]; ok {
		if f.items[i].Read {
			return nil
		}
		f.items[i].Read = true
	}
	// entries beyond the fetched page still count toward unread
	f.unread = max(0, f.unread-1)
	return nil
}

func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	if _, err := f.api.MarkAllRead(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
	f.mu.Unlock()
	return nil
}

// Items returns a copy of the list, newest first.
func (f *NotificationFeed) Items() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.items...)
}

func (f *NotificationFeed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}
