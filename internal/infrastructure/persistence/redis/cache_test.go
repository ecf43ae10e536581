package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `rulesmaster:@rulesmaster_progress:`, escapeGlob("rulesmaster:@rulesmaster_progress:"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, `back\\slash`, escapeGlob(`back\slash`))
}

func TestConfigAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, "rulesmaster:", cfg.KeyPrefix)
}
