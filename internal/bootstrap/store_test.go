package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"qms/lane-service/internal/config"
)

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "lanes.db")}
	st, closeStore, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeStore()

	lanes, err := st.ListLanes(context.Background(), false)
	if err != nil {
		t.Fatalf("list lanes: %v", err)
	}
	if len(lanes) != 0 {
		t.Fatalf("expected empty store, got %d lanes", len(lanes))
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, _, err := OpenStore(context.Background(), config.Config{StoreDriver: "mysql"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, _, err := OpenStore(context.Background(), config.Config{StoreDriver: config.DriverPostgres}); err == nil {
		t.Fatal("expected missing dsn error")
	}
}
