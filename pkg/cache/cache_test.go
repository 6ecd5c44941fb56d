package cache

import (
	"sync"
	"testing"

	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
)

func TestCache_GetMiss(t *testing.T) {
	c := NewCache()

	if _, ok := c.Get(NewFetchKey("2015-10-18", []string{"17"})); ok {
		t.Error("Get on empty cache should report not fetched")
	}
}

func TestCache_PutAndGet(t *testing.T) {
	c := NewCache()
	key := NewFetchKey("2015-10-18", []string{"17"})
	paper := openalex.Paper{Title: "A", ID: "https://doi.org/10.1/a"}

	if !c.Put(key, Found(paper)) {
		t.Fatal("first Put should store the entry")
	}

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get after Put should hit")
	}
	if !got.Found || got.Paper.Title != "A" {
		t.Errorf("Get() = %+v, want found paper A", got)
	}
}

func TestCache_NoneIsDistinctFromAbsent(t *testing.T) {
	c := NewCache()
	key := NewFetchKey("2015-10-18", []string{"17"})

	c.Put(key, None())

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("cached None should be reported as fetched")
	}
	if got.Found {
		t.Error("cached None should not be Found")
	}
	if !c.Contains(key) {
		t.Error("Contains should report cached None")
	}
}

func TestCache_FirstWriteWins(t *testing.T) {
	c := NewCache()
	key := NewFetchKey("2015-10-18", []string{"17"})

	c.Put(key, Found(openalex.Paper{Title: "first"}))
	if c.Put(key, Found(openalex.Paper{Title: "second"})) {
		t.Error("second Put should be rejected")
	}
	c.Put(key, None())

	got, _ := c.Get(key)
	if got.Paper.Title != "first" {
		t.Errorf("Title = %q, want first (immutable after Put)", got.Paper.Title)
	}
}

func TestCache_EquivalentKeysShareEntry(t *testing.T) {
	c := NewCache()
	c.Put(NewFetchKey("2015-10-18", []string{"17", "11"}), Found(openalex.Paper{Title: "x"}))

	if _, ok := c.Get(NewFetchKey("2015-10-18", []string{"11", "17"})); !ok {
		t.Error("reordered categories should hit the same entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_SeparateInstances(t *testing.T) {
	a := NewCache()
	b := NewCache()
	key := NewFetchKey("2015-10-18", []string{"17"})

	a.Put(key, None())
	if _, ok := b.Get(key); ok {
		t.Error("caches must not share state")
	}
}

func TestCache_Keys(t *testing.T) {
	c := NewCache()
	c.Put(NewFetchKey("2020-01-01", []string{"17"}), None())
	c.Put(NewFetchKey("2015-01-01", []string{"17"}), None())

	keys := c.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() len = %d, want 2", len(keys))
	}
	if keys[0] != "works:2015-01-01:17" || keys[1] != "works:2020-01-01:17" {
		t.Errorf("Keys() = %v, want sorted", keys)
	}
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := NewCache()
	key := NewFetchKey("2015-10-18", []string{"17"})
	c.Put(key, Found(openalex.Paper{Title: "x"}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Get(key); !ok {
				t.Error("concurrent Get missed")
			}
		}()
	}
	wg.Wait()
}
