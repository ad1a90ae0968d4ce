package media

import (
	"context"
	"testing"

	"github.com/yungbote/studio-ingest/internal/data/repos/testutil"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
)

func TestIdentitySlotRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewIdentitySlotRepo(db, testutil.Logger(t))

	if got, err := repo.Get(dbc, "vesper", 1); err != nil || got != nil {
		t.Fatalf("Get empty: got=%v err=%v", got, err)
	}
	if err := repo.Put(dbc, "vesper", 1, "a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(dbc, "vesper", 1, "b"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	if err := repo.Put(dbc, "vesper", 5, "c"); err != nil {
		t.Fatalf("Put second slot: %v", err)
	}
	got, err := repo.Get(dbc, "vesper", 1)
	if err != nil || got == nil || got.PublicID != "b" {
		t.Fatalf("Get after overwrite: got=%v err=%v", got, err)
	}
	list, err := repo.ListByAgent(dbc, "vesper")
	if err != nil || len(list) != 2 || list[1].Slot != 5 {
		t.Fatalf("ListByAgent: %v err=%v", list, err)
	}
	if ok, err := repo.Release(dbc, "vesper", 5, "b"); err != nil || ok {
		t.Fatalf("Release by a non-holder: ok=%v err=%v", ok, err)
	}
	if got, err := repo.Get(dbc, "vesper", 5); err != nil || got == nil || got.PublicID != "c" {
		t.Fatalf("Release by a non-holder removed the row: got=%v err=%v", got, err)
	}
	if ok, err := repo.Release(dbc, "vesper", 5, "c"); err != nil || !ok {
		t.Fatalf("Release by the holder: ok=%v err=%v", ok, err)
	}
	if err := repo.Delete(dbc, "vesper", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := repo.Get(dbc, "vesper", 1); err != nil || got != nil {
		t.Fatalf("Get after delete: got=%v err=%v", got, err)
	}
}
