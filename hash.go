package psep

import "hash/fnv"

// HashSequencingIdentifier maps a sequencing identifier to a 32-bit hash
// for segment routing. Two identifiers with the same hash always route
// to the same segment; this is the only property Segment.Matches
// relies on, so the specific algorithm is not part of the wire
// contract between processes.
func HashSequencingIdentifier(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}
