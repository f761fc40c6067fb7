package sqlite

import "testing"

func TestMigrateUpDown(t *testing.T) {
	store := newTestStore(t)

	version, dirty, err := store.MigrateVersion("migrations")
	if err != nil {
		t.Fatalf("MigrateVersion before up: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh db version = %d dirty=%v, want 0 clean", version, dirty)
	}

	if err := store.MigrateUp("migrations"); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	// A second up is a no-op.
	if err := store.MigrateUp("migrations"); err != nil {
		t.Fatalf("repeated MigrateUp: %v", err)
	}

	version, dirty, err = store.MigrateVersion("migrations")
	if err != nil {
		t.Fatalf("MigrateVersion after up: %v", err)
	}
	if version == 0 || dirty {
		t.Errorf("migrated version = %d dirty=%v", version, dirty)
	}

	if err := store.MigrateDown("migrations"); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
}
