package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type counterDoc struct {
	Count int `json:"count"`
}

func TestReadMissingFile(t *testing.T) {
	m := NewManager(Options{})
	data, err := m.Read(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil document for missing file, got %q", data)
	}
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	m := NewManager(Options{LockTimeout: 10 * time.Second})
	path := filepath.Join(t.TempDir(), "counter.json")

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- UpdateJSON(m, context.Background(), path, func(doc *counterDoc) error {
				doc.Count++
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	doc, err := ReadJSON[counterDoc](m, path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if doc.Count != n {
		t.Fatalf("expected count %d, got %d", n, doc.Count)
	}
}

func TestFailingOpDoesNotPoisonQueue(t *testing.T) {
	m := NewManager(Options{})
	path := filepath.Join(t.TempDir(), "doc.json")

	boom := errors.New("boom")
	if err := m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}

	if err := UpdateJSON(m, context.Background(), path, func(doc *counterDoc) error {
		doc.Count = 7
		return nil
	}); err != nil {
		t.Fatalf("Update after failure: %v", err)
	}

	doc, err := ReadJSON[counterDoc](m, path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if doc.Count != 7 {
		t.Fatalf("expected count 7, got %d", doc.Count)
	}
}

func TestFIFOOrdering(t *testing.T) {
	m := NewManager(Options{})
	path := filepath.Join(t.TempDir(), "order.json")

	type orderDoc struct {
		Seen []int `json:"seen"`
	}

	// Block the worker on the first op so the rest queue up in order.
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- UpdateJSON(m, context.Background(), path, func(doc *orderDoc) error {
			<-release
			doc.Seen = append(doc.Seen, 0)
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = UpdateJSON(m, context.Background(), path, func(doc *orderDoc) error {
				doc.Seen = append(doc.Seen, i)
				return nil
			})
		}()
		time.Sleep(20 * time.Millisecond) // establish submission order
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first op: %v", err)
	}
	wg.Wait()

	doc, err := ReadJSON[orderDoc](m, path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	for i, v := range doc.Seen {
		if v != i {
			t.Fatalf("expected submission order, got %v", doc.Seen)
		}
	}
	if len(doc.Seen) != 6 {
		t.Fatalf("expected 6 ops applied, got %d", len(doc.Seen))
	}
}

func TestLockTimeoutDiscardsOperation(t *testing.T) {
	m := NewManager(Options{LockTimeout: 100 * time.Millisecond})
	path := filepath.Join(t.TempDir(), "slow.json")

	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- m.Update(context.Background(), path, func(doc []byte) ([]byte, error) {
			<-release
			return []byte(`{"holder":true}`), nil
		})
	}()
	time.Sleep(30 * time.Millisecond)

	ran := false
	err := m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		ran = true
		return []byte(`{"late":true}`), nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	close(release)
	if err := <-holder; err != nil {
		t.Fatalf("holder op: %v", err)
	}
	// Give the worker a chance to (incorrectly) run the discarded op.
	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Fatal("timed-out operation must never run")
	}

	data, err := m.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"holder":true}` {
		t.Fatalf("expected holder document, got %q", data)
	}
}

func TestLockFileRemovedOnAllPaths(t *testing.T) {
	m := NewManager(Options{})
	path := filepath.Join(t.TempDir(), "doc.json")
	lockPath := path + ".lock"

	if err := m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		if _, err := os.Stat(lockPath); err != nil {
			return nil, fmt.Errorf("lock file should exist during op: %w", err)
		}
		return []byte(`{}`), nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after success, stat err=%v", err)
	}

	_ = m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		return nil, errors.New("fail")
	})
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after failure, stat err=%v", err)
	}
}

func TestCrossPathOperationsDoNotBlock(t *testing.T) {
	m := NewManager(Options{LockTimeout: 10 * time.Second})
	dir := t.TempDir()
	slowPath := filepath.Join(dir, "slow.json")
	fastPath := filepath.Join(dir, "fast.json")

	release := make(chan struct{})
	slow := make(chan error, 1)
	go func() {
		slow <- m.Update(context.Background(), slowPath, func([]byte) ([]byte, error) {
			<-release
			return []byte(`{}`), nil
		})
	}()
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	if err := m.Update(context.Background(), fastPath, func([]byte) ([]byte, error) {
		return []byte(`{}`), nil
	}); err != nil {
		t.Fatalf("fast path update: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cross-path update blocked for %v", elapsed)
	}

	close(release)
	if err := <-slow; err != nil {
		t.Fatalf("slow op: %v", err)
	}
}

func TestQueueBookkeepingReclaimed(t *testing.T) {
	m := NewManager(Options{})
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		return []byte(`{}`), nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		n := len(m.queues)
		m.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue registry not reclaimed, %d entries remain", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaleLockBroken(t *testing.T) {
	m := NewManager(Options{LockTimeout: 2 * time.Second, LockStale: 50 * time.Millisecond})
	path := filepath.Join(t.TempDir(), "doc.json")
	lockPath := path + ".lock"

	// Simulate a lock left behind by a dead process.
	if err := os.WriteFile(lockPath, []byte("999999 0\n"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock file: %v", err)
	}

	if err := m.Update(context.Background(), path, func([]byte) ([]byte, error) {
		return []byte(`{}`), nil
	}); err != nil {
		t.Fatalf("Update should break stale lock: %v", err)
	}
}
