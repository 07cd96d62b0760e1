package raft

import (
	"errors"
	"testing"

	"github.com/gookit/goutil/dump"
)

func buildLog(data ...Tuple[uint64, string]) (logs []*LogEntry) {
	for _, datum := range data {
		logs = append(logs, &LogEntry{
			Data:  []byte(datum.B),
			Index: datum.A,
		})
	}
	return
}

func TestMemoryLog(t *testing.T) {
	store := NewMemoryStore()
	getCheck := func(idx uint64, target string) {
		log, err := store.GetLog(idx)
		if err != nil {
			t.Fatalf("get %d err :%s", idx, err)
		}
		if m := string(log.Data); m != target {
			t.Fatalf("m:%s ,target :%s ", m, target)
		}
	}

	store.SetLogs(buildLog(
		BuildTuple(uint64(1), "1"),
		BuildTuple(uint64(2), "2"),
		BuildTuple(uint64(3), "3"),
	))
	getCheck(1, "1")
	getCheck(2, "2")
	getCheck(3, "3")

	first, _ := store.FirstIndex()
	last, _ := store.LastIndex()
	check(first == 1 && last == 3, t, "first/last", first, last)

	logs, err := store.GetLogRange(1, 3)
	check(err == nil && len(logs) == 3, t, "range", err, len(logs))

	if _, err = store.GetLog(9); !errors.Is(err, ErrNotFoundLog) {
		t.Fatalf("expected ErrNotFoundLog ,got :%v", err)
	}

	store.DeleteRange(2, 3)
	last, _ = store.LastIndex()
	check(last == 1, t, "last after delete", last)
	dump.Println(store.log.Get())
}

func TestMemoryKV(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetUint64("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound ,got :%v", err)
	}
	store.SetUint64("1", 1)
	v, err := store.GetUint64("1")
	check(err == nil && v == 1, t, v, err)
	store.Set("1", "x")
	s, err := store.Get("1")
	check(err == nil && s == "x", t, s, err)
}
