// watch.go — low-latency fast path for response ingestion: fsnotify feeds
// newly-created response files onto a channel, which longpoll.Channel
// batches into quiet-window bursts before a single bus.Event fires, so a
// flurry of callback_query responses from Telegram collapses into one
// "responses.arrived" notice instead of one per file.
package main

import (
	"context"

	"github.com/joeycumines/go-utilpkg/longpoll"

	"github.com/dev-console/notifybridge/internal/bus"
	"github.com/dev-console/notifybridge/internal/fsops"
)

func watchResponses(ctx context.Context, app *App) {
	arrivals := make(chan string, 64)
	if _, err := fsops.WatchDir(ctx, app.cfg.ResponsesDir, ".json", func(path string) {
		select {
		case arrivals <- path:
		default:
			// fast path is best-effort; the tool-driven poll still covers it.
		}
	}); err != nil {
		// Missing fast path never blocks ingestion — process_pending/
		// get_responses still poll the drop-zone directly.
		return
	}

	go func() {
		for {
			var batch []string
			err := longpoll.Channel(ctx, nil, arrivals, func(path string) error {
				batch = append(batch, path)
				return nil
			})
			if len(batch) > 0 {
				app.bus.Publish(bus.Event{Source: "responses", Kind: "arrived", Payload: batch})
			}
			if err != nil {
				return
			}
		}
	}()
}
