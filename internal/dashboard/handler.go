package dashboard

import (
	"context"
	"time"

	"github.com/folio-app/folio/internal/notify"
	"github.com/folio-app/folio/internal/watch"
)

// ChangeData contains one external change
type ChangeData struct {
	Kind     string `json:"kind"`
	Type     string `json:"type"` // added, changed, removed
	EntityID string `json:"entity_id"`
	Path     string `json:"path"`
}

// WatchErrorData contains a watcher error
type WatchErrorData struct {
	Kind    string `json:"kind"`
	Dir     string `json:"dir"`
	Message string `json:"message"`
}

// SyncCompleteData contains the outcome of reloading one kind
type SyncCompleteData struct {
	Kind     string        `json:"kind"`
	Added    int           `json:"added"`
	Updated  int           `json:"updated"`
	Removed  int           `json:"removed"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
}

// WatchHandler returns a watch.Handler that broadcasts the events of the
// watcher for kind.
func (s *Server) WatchHandler(kind string) watch.Handler {
	return func(ev watch.Event) {
		switch ev.Kind {
		case watch.EventChange:
			s.broadcastData(MessageTypeChange, ev.Change.Timestamp, ChangeData{
				Kind:     kind,
				Type:     string(ev.Change.Type),
				EntityID: ev.Change.EntityID,
				Path:     ev.Change.Path,
			})
		case watch.EventError:
			s.broadcastData(MessageTypeWatchError, ev.Error.Timestamp, WatchErrorData{
				Kind:    kind,
				Dir:     ev.Error.Dir,
				Message: ev.Error.Message,
			})
		}
	}
}

// SyncComplete broadcasts the outcome of a reload.
func (s *Server) SyncComplete(data SyncCompleteData) {
	s.broadcastData(MessageTypeSyncComplete, time.Now(), data)
}

// Notify broadcasts n to connected clients. It never fails; clients that
// miss a notification are not retried.
func (s *Server) Notify(_ context.Context, n notify.Notification) error {
	s.broadcastData(MessageTypeNotification, time.Now(), n)
	return nil
}

func (s *Server) broadcastData(typ MessageType, at time.Time, data interface{}) {
	msg, err := newMessage(typ, data)
	if err != nil {
		s.logger.Printf("Failed to build %s message: %v", typ, err)
		return
	}
	if !at.IsZero() {
		msg.Timestamp = at
	}
	s.Broadcast(msg)
}

var _ notify.Notifier = (*Server)(nil)
