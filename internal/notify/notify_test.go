package notify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
)

type recorder struct {
	got []Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(log.New(&buf, "", 0))

	tests := []struct {
		in   Notification
		want string
	}{
		{Notification{Title: "Item added", Body: "d1", Urgency: UrgencyLow}, "[low] Item added: d1\n"},
		{Notification{Title: "Watch error", Urgency: UrgencyCritical}, "[critical] Watch error\n"},
	}
	for _, tt := range tests {
		buf.Reset()
		if err := n.Notify(context.Background(), tt.in); err != nil {
			t.Fatalf("Notify() failed: %v", err)
		}
		if buf.String() != tt.want {
			t.Errorf("logged %q, want %q", buf.String(), tt.want)
		}
	}
}

func TestMulti_DeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}

	err := Multi{a, nil, b}.Notify(context.Background(), Notification{Title: "x"})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Errorf("every notifier should receive the notification: %d, %d", len(a.got), len(b.got))
	}

	if err := (Multi{b}).Notify(context.Background(), Notification{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.Notify(context.Background(), Notification{Title: strings.Repeat("x", 3)}); err != nil {
		t.Errorf("Discard.Notify() = %v", err)
	}
}
