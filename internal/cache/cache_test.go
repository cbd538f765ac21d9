package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory()
	c.Set("a", []byte("1"), 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemory()
	c.Set("short", []byte("x"), 10*time.Millisecond)
	c.Set("long", []byte("y"), time.Hour)

	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestMemory_ValueCopied(t *testing.T) {
	c := NewMemory()
	buf := []byte("original")
	c.Set("k", buf, 0)
	buf[0] = 'X'

	v, _ := c.Get("k")
	assert.Equal(t, []byte("original"), v)
}

func TestMemory_KeysPrefix(t *testing.T) {
	c := NewMemory()
	c.Set("edges/kraken/BTC", []byte("1"), 0)
	c.Set("edges/kraken/ETH", []byte("2"), 0)
	c.Set("health/kraken", []byte("3"), 0)
	c.Set("edges/expired", []byte("4"), time.Nanosecond)

	time.Sleep(time.Millisecond)

	keys := c.Keys("edges/")
	assert.Len(t, keys, 2)
	assert.ElementsMatch(t, []string{"edges/kraken/BTC", "edges/kraken/ETH"}, keys)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory()
	c.Set("k", []byte("v"), 0)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestNewAuto_EmptyAddrIsMemory(t *testing.T) {
	c := NewAuto("")
	_, ok := c.(*memory)
	assert.True(t, ok)
}
