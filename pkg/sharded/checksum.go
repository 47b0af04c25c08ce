package sharded

import (
	"bytes"
	"crypto/md5"
	"hash"
	"hash/crc32"

	"gocloud.dev/gcerrors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// shardHash computes the checksums object stores report for stored objects:
// MD5 (most stores) and CRC32C (GCS).
type shardHash struct {
	md5 hash.Hash
	crc hash.Hash32
}

func newShardHash() *shardHash {
	return &shardHash{
		md5: md5.New(),
		crc: crc32.New(castagnoli),
	}
}

func (h *shardHash) Write(p []byte) {
	h.md5.Write(p)
	h.crc.Write(p)
}

// verify compares the computed checksums with those reported for obj.
func (h *shardHash) verify(obj *Object) error {
	if obj.CRC32C != nil {
		if sum := h.crc.Sum32(); sum != *obj.CRC32C {
			return Errorf(gcerrors.Internal, "checksum mismatch for %q: crc32c of written data is %08x, store reports %08x",
				obj.Name, sum, *obj.CRC32C)
		}
	}
	if obj.MD5 != nil {
		if sum := h.md5.Sum(nil); !bytes.Equal(sum, obj.MD5) {
			return Errorf(gcerrors.Internal, "checksum mismatch for %q: md5 of written data is %x, store reports %x",
				obj.Name, sum, obj.MD5)
		}
	}
	return nil
}
