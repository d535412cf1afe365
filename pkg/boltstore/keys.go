package boltstore

import (
	"encoding/binary"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta    = []byte("meta")
	bucketObjects = []byte("objects")
	bucketPlayers = []byte("players")
)

// Meta key constants.
var (
	keyVersion = []byte("version")
	keyGod     = []byte("god")
	keySaved   = []byte("saved")
)

// formatVersion is bumped when the object encoding changes.
const formatVersion = 1

// refToKey converts a DBRef to an 8-byte big-endian key.
// Offset so negative DBRefs (Nothing=-1, etc.) sort before real ones.
func refToKey(ref gamedb.DBRef) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(ref)+1<<32))
	return buf
}

// keyToRef converts an 8-byte big-endian key back to a DBRef.
func keyToRef(b []byte) gamedb.DBRef {
	v := binary.BigEndian.Uint64(b)
	return gamedb.DBRef(int64(v) - 1<<32)
}

func intToKey(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func keyToInt(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
