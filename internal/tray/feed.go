package tray

import "github.com/tnunamak/clawtray/internal/poller"

// Feed carries controller updates to the UI goroutine. Notify never blocks:
// when the UI falls behind, the oldest pending update is dropped, since
// every update carries the full view.
type Feed struct {
	ch chan poller.Update
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan poller.Update, 8)}
}

func (f *Feed) Notify(u poller.Update) {
	for {
		select {
		case f.ch <- u:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *Feed) Updates() <-chan poller.Update { return f.ch }
