package collection

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/queryduck/queryduck-go/pkg/value"
)

// wildcard is the position key of an unbound position. Value keys always
// carry a kind tag and a colon, so it cannot collide with one.
const wildcard = "*"

// patternKey identifies one (s|*, p|*, o|*) pattern.
type patternKey [16]byte

// newPatternKey hashes the three position keys with 128-bit xxh3. Each key
// is length-prefixed so position boundaries are unambiguous.
func newPatternKey(s, p, o string) patternKey {
	buf := make([]byte, 0, len(s)+len(p)+len(o)+3*binary.MaxVarintLen64)
	for _, k := range [3]string{s, p, o} {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
	}

	hash := xxh3.Hash128(buf)
	var key patternKey
	binary.BigEndian.PutUint64(key[0:8], hash.Hi)
	binary.BigEndian.PutUint64(key[8:16], hash.Lo)
	return key
}

// positionKey returns the key of a bound position, or the wildcard for nil.
func positionKey(v value.Value) string {
	if v == nil {
		return wildcard
	}
	return value.Key(v)
}

// patternKeys lists the seven patterns a triple contributes to: every
// combination of bound and wildcarded positions except all three wildcarded.
func patternKeys(t value.Triple) [7]patternKey {
	var k [3]string
	for i := range k {
		k[i] = value.Key(t.At(i))
	}

	var keys [7]patternKey
	for mask := 0; mask < 7; mask++ {
		var pos [3]string
		for i := range pos {
			if mask&(1<<i) != 0 {
				pos[i] = wildcard
			} else {
				pos[i] = k[i]
			}
		}
		keys[mask] = newPatternKey(pos[0], pos[1], pos[2])
	}
	return keys
}
