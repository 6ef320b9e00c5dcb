package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/gatewarden/internal/history"
)

func TestFromDSNSqlite(t *testing.T) {
	cases := []string{
		":memory:",
		"sqlite://:memory:",
		filepath.Join(t.TempDir(), "events.db"),
	}
	for _, dsn := range cases {
		s, err := FromDSN(dsn)
		if err != nil {
			t.Fatalf("FromDSN(%q): %v", dsn, err)
		}
		e := history.Event{
			Type:       history.EventReady,
			OccurredAt: time.Now().UTC(),
			Record:     history.Record{Name: "gw", PID: 1},
		}
		if err := s.Send(context.Background(), e); err != nil {
			t.Fatalf("send via %q: %v", dsn, err)
		}
		_ = s.Close()
	}
}

func TestFromDSNUnsupported(t *testing.T) {
	for _, dsn := range []string{"", "redis://localhost", "mysql://u@h/db"} {
		if _, err := FromDSN(dsn); err == nil {
			t.Fatalf("FromDSN(%q) should fail", dsn)
		}
	}
}
