package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_payment_indexes.sql": {Data: []byte("CREATE INDEX idx_payment_date ON payment (payment_date);")},
		"001_billing_ledger.sql":  {Data: []byte("CREATE TABLE invoice (id UUID PRIMARY KEY);")},
		"010_late_fees.sql":       {Data: []byte("ALTER TABLE invoice ADD COLUMN late_fee NUMERIC(14,2);")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_billing_ledger.sql" {
		t.Errorf("expected 001_billing_ledger.sql first, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE invoice (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_billing_ledger.sql": {Data: []byte("SELECT 1;")},
		"README.md":              {Data: []byte("notes")},
		"seed.sql":               {Data: []byte("SELECT 2;")},
		"abc_bad.sql":            {Data: []byte("SELECT 3;")},
		"archive/002_old.sql":    {Data: []byte("SELECT 4;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d: %+v", len(migrations), migrations)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestBuildStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_billing_ledger.sql"},
		{Version: 2, Name: "002_payment_indexes.sql"},
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	statuses := buildStatus(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}
