package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/gatewarden/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns the
// native-protocol address. Skips when Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return nil, ""
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return nil, ""
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
		return nil, ""
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "gateway_events_test")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	events := []history.Event{
		{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "gw", PID: 77}},
		{Type: history.EventCircuitOpen, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "gw", PID: 0, Detail: "5 crashes in window"}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	// Give the merge tree a moment before reading back.
	time.Sleep(100 * time.Millisecond)

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM gateway_events_test WHERE name = ?", "gw")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != uint64(len(events)) {
		t.Fatalf("count = %d, want %d", count, len(events))
	}
}

func TestClickHouseDSNPrefixTrimmed(t *testing.T) {
	// No server behind this address; New must fail at ping, proving the
	// scheme prefix was stripped rather than passed to the resolver.
	if _, err := New("clickhouse://127.0.0.1:1", ""); err == nil {
		t.Fatal("expected connection error")
	}
}
