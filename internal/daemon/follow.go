package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/folio-app/folio/internal/watch"
)

// followSelection watches the workspace selection file so that
// 'folio workspace use' and 'folio workspace close', which run in their
// own process, reach this daemon's listeners through Service.Reload.
func (d *Daemon) followSelection() error {
	if d.ws.File() == "" {
		return nil
	}
	file, err := filepath.Abs(d.ws.File())
	if err != nil {
		return fmt.Errorf("failed to resolve workspace file: %w", err)
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace file directory: %w", err)
	}

	wc := d.config.Watch
	h, err := d.backend().Watch(dir, watch.BackendOptions{
		IgnoreInitial:      true,
		PollInterval:       wc.PollInterval,
		StabilityThreshold: wc.StabilityThreshold,
		StabilityPoll:      wc.StabilityPoll,
		Ignore:             func(p string) bool { return filepath.Clean(p) != file },
	})
	if err != nil {
		return fmt.Errorf("failed to watch workspace file %s: %w", file, err)
	}
	d.selection = h

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case _, ok := <-h.Events():
				if !ok {
					return
				}
				if err := d.ws.Reload(); err != nil {
					d.config.Logger.Printf("Warning: failed to reload workspace selection: %v", err)
				}
			case err, ok := <-h.Errors():
				if !ok {
					return
				}
				d.config.Logger.Printf("Warning: workspace file watch error: %v", err)
			}
		}
	}()

	// Catch a switch made between loading the service and starting the watch.
	return d.ws.Reload()
}

func (d *Daemon) backend() watch.Backend {
	switch {
	case d.config.Backend != nil:
		return d.config.Backend
	case d.config.Watch.UsePolling:
		return watch.PollBackend()
	default:
		return watch.NativeBackend()
	}
}
