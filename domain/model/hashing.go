package model

import (
	"encoding/binary"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// AddressSuffix terminates every dposd address.
const AddressSuffix = "D"

// HashSize is the size of a dposd hash.
const HashSize = blake2b.Size256

// Hash returns the blake2b-256 hash of data.
func Hash(data []byte) [HashSize]byte {
	return blake2b.Sum256(data)
}

// IDFromBytes derives a block or transaction id: the first eight bytes of
// the hash of data as a little-endian decimal number.
func IDFromBytes(data []byte) string {
	hash := Hash(data)
	return strconv.FormatUint(binary.LittleEndian.Uint64(hash[:8]), 10)
}

// AddressFromPublicKey derives the address of a public key.
func AddressFromPublicKey(publicKey []byte) string {
	return IDFromBytes(publicKey) + AddressSuffix
}

// ParseAddress returns the numeric part of an address, or false if address
// is malformed.
func ParseAddress(address string) (uint64, bool) {
	if len(address) < 2 || address[len(address)-1:] != AddressSuffix {
		return 0, false
	}
	number, err := strconv.ParseUint(address[:len(address)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
