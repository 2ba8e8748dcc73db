package ring

import (
	"reflect"
	"sync"
	"testing"
)

func TestBuffer_AddAndAll(t *testing.T) {
	b := New[int](3)

	if got := b.All(); got != nil {
		t.Errorf("All() on empty buffer = %v, want nil", got)
	}

	b.Add(1)
	b.Add(2)
	if got, want := b.All(), []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}

	b.Add(3)
	evicted, ok := b.Add(4)
	if !ok || evicted != 1 {
		t.Errorf("Add() evicted = %v, %v; want 1, true", evicted, ok)
	}
	if got, want := b.All(), []int{2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
}

func TestBuffer_Last(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.Add(s)
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{1, []string{"e"}},
		{2, []string{"d", "e"}},
		{10, []string{"b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		if got := b.Last(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Last(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	if newest, ok := b.Newest(); !ok || newest != "e" {
		t.Errorf("Newest() = %q, %v; want e, true", newest, ok)
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := New[int](2)
	b.Add(1)
	b.Clear()
	if b.Len() != 0 || b.All() != nil {
		t.Errorf("Clear() left %d items", b.Len())
	}
	if _, ok := b.Newest(); ok {
		t.Error("Newest() on cleared buffer should report false")
	}
}

func TestBuffer_DefaultSize(t *testing.T) {
	if got := New[int](0).Cap(); got != 10 {
		t.Errorf("Cap() = %d, want 10", got)
	}
}

func TestBuffer_Concurrent(t *testing.T) {
	b := New[int](50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Add(base*100 + j)
				_ = b.All()
			}
		}(i)
	}
	wg.Wait()
	if b.Len() != 50 {
		t.Errorf("Len() = %d, want 50", b.Len())
	}
}
