package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"dbcore/internal/page"
)

func TestCreateTableAssignsIncreasingOIDs(t *testing.T) {
	c := New("")

	oid1, err := c.CreateTable("accounts")
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	oid2, err := c.CreateTable("orders")
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if oid1 == oid2 {
		t.Fatalf("expected distinct oids, got %d and %d", oid1, oid2)
	}

	got, err := c.TableID("accounts")
	if err != nil || got != oid1 {
		t.Fatalf("TableID(accounts) = %d, %v; want %d, nil", got, err, oid1)
	}
}

func TestCreateTableDuplicateErrors(t *testing.T) {
	c := New("")
	if _, err := c.CreateTable("accounts"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTable("accounts"); !errors.Is(err, ErrTableExists) {
		t.Fatalf("expected ErrTableExists, got %v", err)
	}
}

func TestTableIDUnknownTableErrors(t *testing.T) {
	c := New("")
	if _, err := c.TableID("ghost"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestDropTableRemovesEntry(t *testing.T) {
	c := New("")
	if _, err := c.CreateTable("accounts"); err != nil {
		t.Fatal(err)
	}
	if err := c.DropTable("accounts"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if c.TableExists("accounts") {
		t.Fatal("expected accounts to be gone after DropTable")
	}
	if err := c.DropTable("accounts"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound on second drop, got %v", err)
	}
}

func TestIndexRootRoundTrip(t *testing.T) {
	c := New("")
	if _, err := c.CreateTable("accounts"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateIndex("accounts", "by_id", page.ID(7)); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	root, err := c.IndexRoot("accounts", "by_id")
	if err != nil || root != page.ID(7) {
		t.Fatalf("IndexRoot = %v, %v; want 7, nil", root, err)
	}

	if err := c.UpdateIndexRoot("accounts", "by_id", page.ID(42)); err != nil {
		t.Fatalf("UpdateIndexRoot: %v", err)
	}
	root, err = c.IndexRoot("accounts", "by_id")
	if err != nil || root != page.ID(42) {
		t.Fatalf("IndexRoot after update = %v, %v; want 42, nil", root, err)
	}
}

func TestCreateIndexRequiresExistingTable(t *testing.T) {
	c := New("")
	if err := c.CreateIndex("ghost", "by_id", page.ID(1)); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestCreateIndexDuplicateErrors(t *testing.T) {
	c := New("")
	if _, err := c.CreateTable("accounts"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateIndex("accounts", "by_id", page.ID(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateIndex("accounts", "by_id", page.ID(2)); !errors.Is(err, ErrIndexExists) {
		t.Fatalf("expected ErrIndexExists, got %v", err)
	}
}

func TestIndexRootUnknownIndexErrors(t *testing.T) {
	c := New("")
	if _, err := c.CreateTable("accounts"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.IndexRoot("accounts", "ghost"); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	c := New(path)
	oid, err := c.CreateTable("accounts")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CreateIndex("accounts", "by_id", page.ID(7)); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	gotOID, err := reloaded.TableID("accounts")
	if err != nil || gotOID != oid {
		t.Fatalf("TableID after reload = %d, %v; want %d, nil", gotOID, err, oid)
	}
	root, err := reloaded.IndexRoot("accounts", "by_id")
	if err != nil || root != page.ID(7) {
		t.Fatalf("IndexRoot after reload = %v, %v; want 7, nil", root, err)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "does_not_exist.json"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load of missing file should be a no-op, got %v", err)
	}
	if c.TableExists("anything") {
		t.Fatal("expected empty catalog after loading a missing file")
	}
}
