package resource

import (
	"sync"
	"testing"
)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()

	handle, err := b.Create(KindStream, "test value")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := b.Get(handle)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	val, ok = b.Drop(handle)
	if !ok {
		t.Fatal("Drop failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	if _, ok = b.Get(handle); ok {
		t.Fatal("Expected Get to fail after Drop")
	}
}

func TestLocalBackend_Borrow(t *testing.T) {
	b := NewLocalBackend()
	h, _ := b.Create(KindAllocation, "buf")

	if !b.Borrow(h) {
		t.Fatal("Borrow failed")
	}
	if _, err := b.drop(h); err != ErrOutstandingBorrow {
		t.Fatalf("drop with borrow = %v, want ErrOutstandingBorrow", err)
	}
	if !b.ReturnBorrow(h) {
		t.Fatal("ReturnBorrow failed")
	}
	if b.ReturnBorrow(h) {
		t.Fatal("ReturnBorrow without borrow should fail")
	}
	if _, ok := b.Drop(h); !ok {
		t.Fatal("Drop after ReturnBorrow failed")
	}
}

func TestLocalBackend_StaleHandle(t *testing.T) {
	b := NewLocalBackend()

	h1, _ := b.Create(KindAllocation, "first")
	b.Drop(h1)
	h2, _ := b.Create(KindAllocation, "second")

	if h1.Index() != h2.Index() {
		t.Fatalf("slot not reused: %d vs %d", h1.Index(), h2.Index())
	}
	if h1 == h2 {
		t.Fatal("reused slot should carry a new generation")
	}
	if h2.Generation() != h1.Generation()+1 {
		t.Fatalf("generation = %d, want %d", h2.Generation(), h1.Generation()+1)
	}
	if _, ok := b.Get(h1); ok {
		t.Fatal("stale handle resolved")
	}
	if _, ok := b.Drop(h1); ok {
		t.Fatal("stale handle dropped")
	}
	if v, ok := b.Get(h2); !ok || v != "second" {
		t.Fatalf("Get(h2) = %v, %v", v, ok)
	}
}

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()
	d := &dropCounter{}
	b.Create(KindStream, d)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Drop called %d times, want 1", d.count)
	}
	if _, err := b.Create(KindStream, "late"); err != ErrClosed {
		t.Fatalf("Create after Close = %v, want ErrClosed", err)
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := b.Create(KindThread, id)
			b.Borrow(h)
			b.ReturnBorrow(h)
			b.Drop(h)
		}(i)
	}

	wg.Wait()
	if b.Len() != 0 {
		t.Fatalf("Len = %d after concurrent churn", b.Len())
	}
}

func TestLocalBackend_Len(t *testing.T) {
	b := NewLocalBackend()

	if b.Len() != 0 {
		t.Fatal("Expected Len() == 0 initially")
	}

	h1, _ := b.Create(KindStream, "a")
	h2, _ := b.Create(KindStream, "b")
	b.Create(KindStream, "c")

	if b.Len() != 3 {
		t.Fatalf("Expected Len() == 3, got %d", b.Len())
	}

	b.Drop(h1)
	if b.Len() != 2 {
		t.Fatalf("Expected Len() == 2, got %d", b.Len())
	}

	b.Drop(h2)
	if b.Len() != 1 {
		t.Fatalf("Expected Len() == 1, got %d", b.Len())
	}
}

func TestLocalBackend_Each(t *testing.T) {
	b := NewLocalBackend()

	b.Create(KindStream, "a")
	b.Create(KindThread, "b")
	b.Create(KindStream, "c")

	count := 0
	b.Each(func(h Handle, kind Kind, value any) bool {
		count++
		return true
	})
	if count != 3 {
		t.Fatalf("Expected to iterate over 3 items, got %d", count)
	}

	count = 0
	b.Each(func(h Handle, kind Kind, value any) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Expected to iterate over 1 item (early term), got %d", count)
	}
}

func TestLocalBackend_InvalidHandle(t *testing.T) {
	b := NewLocalBackend()

	// Handle 0 is always invalid
	if _, ok := b.Get(0); ok {
		t.Fatal("Handle 0 should be invalid")
	}
	if b.Borrow(0) {
		t.Fatal("Handle 0 should fail Borrow")
	}
	if b.ReturnBorrow(0) {
		t.Fatal("Handle 0 should fail ReturnBorrow")
	}
	if _, ok := b.Drop(0); ok {
		t.Fatal("Handle 0 should fail Drop")
	}

	if _, ok := b.Get(999); ok {
		t.Fatal("Non-existent handle should be invalid")
	}
}
