package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

// feedWriteTimeout bounds a single snapshot write to a slow client.
const feedWriteTimeout = 10 * time.Second

// latestSnapshot is a one-slot mailbox: a newer snapshot replaces one that
// has not been read yet, so a slow client never blocks the Registry.
type latestSnapshot struct {
	ch chan downloads.Snapshot
}

func newLatestSnapshot() *latestSnapshot {
	return &latestSnapshot{ch: make(chan downloads.Snapshot, 1)}
}

// offer is called from Registry notifications, which are serialised.
func (l *latestSnapshot) offer(s downloads.Snapshot) {
	for {
		select {
		case l.ch <- s:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

func (s *Server) handleDownloadFeed(w http.ResponseWriter, r *http.Request) {
	// The server's write timeout would otherwise cut long-lived feeds.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOriginPatterns(r),
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	box := newLatestSnapshot()
	unsubscribe := s.reg.Subscribe(box.offer)
	defer unsubscribe()

	// The feed is write-only; CloseRead handles pings and notices the
	// client going away.
	ctx := conn.CloseRead(r.Context())

	send := func(snap downloads.Snapshot) error {
		wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, snap)
	}

	last := s.reg.Snapshot()
	if err := send(last); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-box.ch:
			if snap.Version <= last.Version {
				continue
			}
			if err := send(snap); err != nil {
				s.log.Debugw("download feed closed", "err", err)
				return
			}
			last = snap
		}
	}
}
