package ldb

import (
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const bloomFilterBitsPerKey = 10

// Options returns the options every leveldb instance is opened with.
// Account and block lookups are point reads, so tables carry a bloom
// filter. It is a variable so tests can shrink the caches.
var Options = func() *opt.Options {
	return &opt.Options{
		Compression:            opt.NoCompression,
		BlockCacheCapacity:     64 * opt.MiB,
		WriteBuffer:            32 * opt.MiB,
		Filter:                 filter.NewBloomFilter(bloomFilterBitsPerKey),
		DisableSeeksCompaction: true,
	}
}
