// Package base58 encodes unsigned 64-bit integers with the Bitcoin alphabet,
// which leaves out 0, O, I and l.
package base58

import (
	"errors"
	"math"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// maxLen is the length of math.MaxUint64 in base58.
const maxLen = 11

var index [256]int8

func init() {
	for i := range index {
		index[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		index[alphabet[i]] = int8(i)
	}
}

var (
	ErrInvalid  = errors.New("base58: invalid character")
	ErrOverflow = errors.New("base58: value overflows uint64")
	ErrEmpty    = errors.New("base58: empty string")
)

// Encode returns the base58 form of n. Zero encodes as "1".
func Encode(n uint64) string {
	var buf [maxLen]byte
	i := maxLen
	for {
		i--
		buf[i] = alphabet[n%58]
		n /= 58
		if n == 0 {
			break
		}
	}
	return string(buf[i:])
}

// Decode parses a base58 string produced by Encode.
func Decode(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, ErrEmpty
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		v := index[s[i]]
		if v < 0 {
			return 0, ErrInvalid
		}
		if n > (math.MaxUint64-uint64(v))/58 {
			return 0, ErrOverflow
		}
		n = n*58 + uint64(v)
	}
	return n, nil
}
