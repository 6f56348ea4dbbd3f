package util_test

import (
	"testing"

	"github.com/downfa11-org/streamlog/util"
)

func TestKeyHashDeterministic(t *testing.T) {
	for _, key := range []string{"", "a", "my-key", "routing/key/with/slashes"} {
		h1 := util.KeyHash(key)
		h2 := util.KeyHash(key)
		if h1 != h2 {
			t.Errorf("KeyHash(%q) not deterministic: %v vs %v", key, h1, h2)
		}
	}
}

func TestKeyHashUnitInterval(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := string(rune('a'+i%26)) + string(rune('A'+i%17)) + string(rune('0'+i%10))
		h := util.KeyHash(key)
		if h < 0 || h >= 1 {
			t.Fatalf("KeyHash(%q) = %v outside [0,1)", key, h)
		}
	}
}

func TestKeyHashDifferentKeys(t *testing.T) {
	if util.KeyHash("key-one") == util.KeyHash("key-two") {
		t.Errorf("KeyHash should produce different results for different keys")
	}
}
