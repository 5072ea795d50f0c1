package tailer

import (
	"context"
	"fmt"

	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

// TailFile reads path line by line into lines. With follow set it keeps
// waiting for appended data (and for the file to reappear after rotation)
// until ctx is cancelled; otherwise it stops at end of file. lines is
// closed once TailFile is done with it, including when it returns an error.
func TailFile(ctx context.Context, path string, follow bool, lines chan<- string, logger *zap.SugaredLogger) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow: follow,
		ReOpen: follow,
		// A followed file may not exist yet; a one-shot read needs it now.
		MustExist: !follow,
		Poll:      follow, // Polling is often safer in Docker mounts
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		close(lines)
		return fmt.Errorf("tail %s: %w", path, err)
	}

	go func() {
		defer close(lines)
		defer t.Cleanup()
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					logger.Warnf("Tailer: error reading line from %s: %v", path, line.Err)
					continue
				}
				select {
				case lines <- line.Text:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}
	}()
	return nil
}
