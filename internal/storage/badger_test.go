package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h" // Disable auto GC for tests
	cfg.Badger.SyncWrites = false

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_BasicOperations(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("k"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, []byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v" {
			t.Errorf("expected v, got %s", got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		if _, err := engine.Get(ctx, []byte("missing")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("d"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		if err := engine.Delete(ctx, []byte("d")); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("d")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}
		if err := engine.Delete(ctx, []byte("d")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound deleting twice, got %v", err)
		}
	})
}

func TestBadgerEngine_Update(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()
	key := []byte("counter")

	t.Run("absent key", func(t *testing.T) {
		err := engine.Update(ctx, key, func(old []byte, exists bool) ([]byte, error) {
			if exists || old != nil {
				t.Errorf("fn got exists=%v old=%q", exists, old)
			}
			return []byte{0}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("fn error aborts", func(t *testing.T) {
		sentinel := errors.New("stop")
		err := engine.Update(ctx, key, func([]byte, bool) ([]byte, error) {
			return []byte{9}, sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("Update error = %v, want sentinel", err)
		}
		got, _ := engine.Get(ctx, key)
		if !bytes.Equal(got, []byte{0}) {
			t.Errorf("value changed after aborted update: %v", got)
		}
	})

	t.Run("concurrent increments", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := engine.Update(ctx, key, func(old []byte, _ bool) ([]byte, error) {
					return []byte{old[0] + 1}, nil
				})
				if err != nil {
					t.Errorf("Update: %v", err)
				}
			}()
		}
		wg.Wait()

		got, _ := engine.Get(ctx, key)
		if got[0] != 4 {
			t.Errorf("counter = %d, want 4", got[0])
		}
	})

	t.Run("nil deletes", func(t *testing.T) {
		if err := engine.Update(ctx, key, func([]byte, bool) ([]byte, error) { return nil, nil }); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})
}

func TestBadgerEngine_Scan(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	for _, k := range []string{"user:2", "user:1", "user:3", "admin:1"} {
		if err := engine.Set(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("Scan with prefix", func(t *testing.T) {
		var keys []string
		err := engine.Scan(ctx, []byte("user:"), func(key, _ []byte) bool {
			keys = append(keys, string(key))
			return true
		})
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"user:1", "user:2", "user:3"}
		if len(keys) != len(want) {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
			}
		}
	})

	t.Run("Scan with early stop", func(t *testing.T) {
		count := 0
		err := engine.Scan(ctx, []byte("user:"), func(_, _ []byte) bool {
			count++
			return count < 2
		})
		if err != nil {
			t.Fatal(err)
		}
		if count != 2 {
			t.Errorf("expected 2 callbacks, got %d", count)
		}
	})
}

func TestBadgerEngine_BackupRestore(t *testing.T) {
	src := newTestBadger(t)
	dst := newTestBadger(t)
	ctx := context.Background()

	if err := src.Set(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := dst.Set(ctx, []byte("stale"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Backup(ctx, &buf); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := dst.Restore(ctx, &buf); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := dst.Get(ctx, []byte("a"))
	if err != nil || string(got) != "1" {
		t.Errorf("restored a = %q, %v", got, err)
	}
	if _, err := dst.Get(ctx, []byte("stale")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("stale key survived restore: %v", err)
	}
}

func TestBadgerEngine_GCAndStats(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	if _, err := engine.GC(ctx); err != nil {
		t.Fatalf("GC: %v", err)
	}
	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.LastGCTime == 0 {
		t.Error("LastGCTime not recorded")
	}
	if stats.TotalSize != stats.LSMSize+stats.ValueLogSize {
		t.Errorf("TotalSize = %d, want LSM+vlog", stats.TotalSize)
	}
}

func TestBadgerEngine_RegisterMetrics(t *testing.T) {
	engine := newTestBadger(t)
	reg := prometheus.NewRegistry()
	engine.RegisterMetrics(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "retouch_badger_lsm_size_bytes" {
			found = true
		}
	}
	if !found {
		t.Error("retouch_badger_lsm_size_bytes not registered")
	}
}

func TestBadgerEngine_Closed(t *testing.T) {
	engine := newTestBadger(t)
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := engine.Get(context.Background(), []byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close = %v, want ErrClosed", err)
	}
}
