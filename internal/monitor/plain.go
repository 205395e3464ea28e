package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"fandomat/internal/status"
)

// RunPlain prints the snapshot to out every interval until ctx ends. It is
// used when stdout is not a terminal.
func RunPlain(ctx context.Context, store *status.Store, out io.Writer, interval time.Duration) error {
	if interval <= 0 {
		interval = RefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := fmt.Fprintln(out, strings.Join(Lines(load(store)), "\n")+"\n"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func load(store *status.Store) *status.Snapshot {
	snap, err := store.Read()
	if err != nil {
		return nil
	}
	return &snap
}
