package util

import (
	"math/rand"
)

// Shuffle reorders in place so partition ownership is not handed out in index order.
func Shuffle[T any](in []T) {
	rand.Shuffle(len(in), func(i, j int) {
		in[i], in[j] = in[j], in[i]
	})
}

func Contains[T comparable](in []T, v T) bool {
	for _, e := range in {
		if e == v {
			return true
		}
	}
	return false
}
