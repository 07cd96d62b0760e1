package raft

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "wal.db"))
	if err != nil {
		t.Fatalf("open bolt store :%s", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestBoltLog(t *testing.T) {
	store := newTestBoltStore(t)

	first, err := store.FirstIndex()
	check(err == nil && first == 0, t, "empty first", first, err)
	last, err := store.LastIndex()
	check(err == nil && last == 0, t, "empty last", last, err)

	err = store.SetLogs(buildLog(
		BuildTuple(uint64(1), "a"),
		BuildTuple(uint64(2), "b"),
		BuildTuple(uint64(3), "c"),
	))
	check(err == nil, t, err)

	log, err := store.GetLog(2)
	check(err == nil && string(log.Data) == "b", t, log, err)

	if _, err = store.GetLog(9); !errors.Is(err, ErrNotFoundLog) {
		t.Fatalf("expected ErrNotFoundLog ,got :%v", err)
	}

	logs, err := store.GetLogRange(1, 3)
	check(err == nil && len(logs) == 3, t, err, len(logs))
	if _, err = store.GetLogRange(1, 9); !errors.Is(err, ErrNotFoundLog) {
		t.Fatalf("expected ErrNotFoundLog for partial range ,got :%v", err)
	}

	check(store.DeleteRange(1, 2) == nil, t)
	first, _ = store.FirstIndex()
	last, _ = store.LastIndex()
	check(first == 3 && last == 3, t, "after delete", first, last)
}

func TestBoltKV(t *testing.T) {
	store := newTestBoltStore(t)

	if _, err := store.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound ,got :%v", err)
	}
	check(store.Set("k", "v") == nil, t)
	v, err := store.Get("k")
	check(err == nil && v == "v", t, v, err)

	check(store.SetUint64("term", 7) == nil, t)
	u, err := store.GetUint64("term")
	check(err == nil && u == 7, t, u, err)
}

func TestHasExistingState(t *testing.T) {
	store := newTestBoltStore(t)

	has, err := HasExistingState(store, store)
	check(err == nil && !has, t, "fresh store", has, err)

	check(store.SetUint64(keyCurrentTerm, 1) == nil, t)
	has, err = HasExistingState(store, store)
	check(err == nil && has, t, "after term persisted", has, err)
}
