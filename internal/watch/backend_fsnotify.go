package watch

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// NativeBackend returns a backend built on the platform's file event API
// via fsnotify. fsnotify does not recurse, so only immediate children of
// the directory are reported.
func NativeBackend() Backend {
	return nativeBackend{}
}

type nativeBackend struct{}

func (nativeBackend) Watch(dir string, opts BackendOptions) (Handle, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	var initial dirSnapshot
	if !opts.IgnoreInitial {
		initial, err = scanDir(dir, opts.Ignore)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	h := newHandle(opts)
	h.closer = fsw.Close
	h.wg.Add(1)
	for _, path := range initial.sortedPaths() {
		h.submit(RawEvent{Path: path, Op: OpCreate})
	}
	go nativeLoop(h, fsw, opts.Ignore)

	return h, nil
}

func nativeLoop(h *handle, fsw *fsnotify.Watcher, ignore func(string) bool) {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ignore != nil && ignore(event.Name) {
				continue
			}
			if raw, ok := convertEvent(event); ok {
				h.submit(raw)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			h.fail(err)
		}
	}
}

// convertEvent maps an fsnotify event to a RawEvent. Chmod-only events are
// dropped.
func convertEvent(event fsnotify.Event) (RawEvent, bool) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// the new name, if inside the directory, arrives as a Create
		op = OpDelete
	default:
		return RawEvent{}, false
	}
	return RawEvent{Path: event.Name, Op: op}, true
}
