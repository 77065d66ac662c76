package chain

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
)

// StorageKey builds the key of a plain storage item.
func StorageKey(pallet, item string) []byte {
	return append(Twox128([]byte(pallet)), Twox128([]byte(item))...)
}

// StorageKeyUint32 builds the key of a Blake2_128Concat map entry keyed by a u32.
func StorageKeyUint32(pallet, item string, value uint32) []byte {
	keyData := make([]byte, 4)
	binary.LittleEndian.PutUint32(keyData, value)
	return append(StorageKey(pallet, item), Blake2_128Concat(keyData)...)
}

// Twox128 implements the TwoX 128-bit hash
func Twox128(data []byte) []byte {
	h1 := xxhash.NewS64(0)
	_, _ = h1.Write(data)
	h2 := xxhash.NewS64(1)
	_, _ = h2.Write(data)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:], h1.Sum64())
	binary.LittleEndian.PutUint64(out[8:], h2.Sum64())
	return out
}

// Blake2_128Concat hashes data and appends the raw input.
func Blake2_128Concat(data []byte) []byte {
	return append(blake2Sum(16, data), data...)
}

// Blake2_256 implements Blake2b 256-bit hash
func Blake2_256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func blake2Sum(size int, data []byte) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		// only reachable with size outside 1..64
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}
