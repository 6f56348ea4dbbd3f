package util

import "hash/fnv"

const unitScale = float64(1 << 53)

// KeyHash maps a routing key onto [0, 1). Equal keys always map to the same value.
func KeyHash(key string) float64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return float64(h.Sum64()>>11) / unitScale
}
