package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/saviobatista/geodata-pusher/internal/config"
	"github.com/saviobatista/geodata-pusher/internal/parser"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestClickHouseRow(t *testing.T) {
	rec := sampleRecords(t, 2)[1]

	row := clickHouseRow(rec)
	if len(row) != 12 {
		t.Fatalf("Expected 12 columns, got %d", len(row))
	}
	if row[0] != rec.ID || row[1] != "000001" {
		t.Errorf("Unexpected key columns: %v %v", row[0], row[1])
	}
	if row[6] != int64(35000) {
		t.Errorf("Expected alt_baro as Int64, got %T %v", row[6], row[6])
	}
	geo, ok := row[11].([]interface{})
	if !ok || len(geo) != 2 || geo[0] != rec.Lon || geo[1] != rec.Lat {
		t.Errorf("Expected geo tuple (lon, lat), got %v", row[11])
	}
}

func TestClickHouseRow_LargeAltitudeKeepsSign(t *testing.T) {
	rec, err := parser.ParseFragment("{\"hex\":\"a\",\"alt_baro\":\"3000000000\"}\n")
	if err != nil {
		t.Fatalf("ParseFragment() failed: %v", err)
	}

	row := clickHouseRow(*rec)
	if row[6] != int64(3000000000) {
		t.Errorf("Expected alt_baro 3000000000, got %T %v", row[6], row[6])
	}
}

func TestOpenClickHouse_InvalidTable(t *testing.T) {
	_, err := OpenClickHouse(context.Background(), config.ClickHouseConfig{
		Addr:  "localhost:9000",
		Table: "records; DROP TABLE x",
	})
	if err == nil {
		t.Error("OpenClickHouse() should reject an invalid table name")
	}
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.3-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "test",
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	sink, err := OpenClickHouse(ctx, config.ClickHouseConfig{
		Addr:     fmt.Sprintf("%s:%s", host, port.Port()),
		Database: "default",
		Username: "default",
		Password: "test",
		Table:    "flight_records",
	})
	if err != nil {
		t.Fatalf("OpenClickHouse() failed: %v", err)
	}
	defer sink.Close()

	records := sampleRecords(t, 10)
	if err := sink.Upload(ctx, records); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if err := sink.Upload(ctx, records[:3]); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	n, err := sink.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 10 {
		t.Errorf("Expected 10 distinct records, got %d", n)
	}
}
