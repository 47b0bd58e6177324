package proxy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEmptyReturnsDirect(t *testing.T) {
	t.Parallel()

	b := NewBalancer(nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, Direct, b.Select())
	}
	assert.Empty(t, b.Usage())
}

func TestSelectTiesGoToFirstSeen(t *testing.T) {
	t.Parallel()

	b := NewBalancer([]string{"http://a:1", "http://b:1", "http://a:1", " "})
	require.Equal(t, 2, b.Len())
	assert.Equal(t, "http://a:1", b.Select())
	assert.Equal(t, "http://b:1", b.Select())
	assert.Equal(t, "http://a:1", b.Select())
}

func TestSelectBalancesLoad(t *testing.T) {
	t.Parallel()

	endpoints := []string{"http://a:1", "http://b:1", "http://c:1"}
	for _, n := range []int{1, 2, 3, 10, 100, 101} {
		b := NewBalancer(endpoints)
		for i := 0; i < n; i++ {
			b.Select()
		}
		expected := float64(n) / float64(len(endpoints))
		for ep, count := range b.Usage() {
			assert.InDelta(t, expected, float64(count), 1, "endpoint %s after %d calls", ep, n)
		}
	}
}

func TestSelectConcurrent(t *testing.T) {
	t.Parallel()

	b := NewBalancer([]string{"http://a:1", "http://b:1"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Select()
		}()
	}
	wg.Wait()
	usage := b.Usage()
	assert.Equal(t, uint64(25), usage["http://a:1"])
	assert.Equal(t, uint64(25), usage["http://b:1"])
}

func TestParseList(t *testing.T) {
	t.Parallel()

	got := ParseList("http://a:1\r\n\nhttp://b:2 , http://c:3\n")
	assert.Equal(t, []string{"http://a:1", "http://b:2", "http://c:3"}, got)
	assert.Empty(t, ParseList(""))
}
