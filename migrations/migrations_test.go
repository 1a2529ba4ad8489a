package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsCoverIndexTables(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	var ups, downs []string
	contents := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		data, err := fs.ReadFile(FS, name)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", name, err)
		}
		contents[name] = string(data)
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups = append(ups, strings.TrimSuffix(name, ".up.sql"))
		case strings.HasSuffix(name, ".down.sql"):
			downs = append(downs, strings.TrimSuffix(name, ".down.sql"))
		default:
			t.Fatalf("migration %s is neither .up.sql nor .down.sql", name)
		}
	}
	if len(ups) != len(downs) {
		t.Fatalf("ups = %v, downs = %v, want pairs", ups, downs)
	}
	for i := range ups {
		if ups[i] != downs[i] {
			t.Fatalf("unpaired migration: up %s vs down %s", ups[i], downs[i])
		}
	}

	tables := []string{
		"conversation_index",
		"user_index",
		"audit_log_index",
		"case_assignment_index",
		"firm_config_index",
	}
	for _, table := range tables {
		created := false
		for name, sql := range contents {
			if strings.HasSuffix(name, ".up.sql") && strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
				created = true
			}
		}
		if !created {
			t.Fatalf("no migration creates %s", table)
		}
	}
}
