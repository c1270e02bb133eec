package storage

import (
	"errors"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := db.Has([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("expected key present, got %v %v", ok, err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("c"), []byte("3"))
	batch.Delete([]byte("a"))
	if batch.Len() != 3 {
		t.Fatalf("expected 3 buffered ops, got %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("b")); ok {
		t.Fatalf("expected batch writes to stay buffered until Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if ok, _ := db.Has([]byte("a")); ok {
		t.Fatalf("expected a deleted by batch")
	}
	value, err := db.Get([]byte("c"))
	if err != nil || string(value) != "3" {
		t.Fatalf("expected c=3, got %q %v", value, err)
	}
	if err := db.Delete([]byte("c")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("c")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected c removed, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)

	value := []byte("x")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'y'
	got, _ := db.Get([]byte("k"))
	if string(got) != "x" {
		t.Fatalf("expected stored value to be copied, got %q", got)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
