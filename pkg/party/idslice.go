package party

import (
	"encoding/binary"
	"io"
	"sort"
)

// IDSlice is a sorted list of distinct IDs.
type IDSlice []ID

// NewIDSlice returns a sorted copy of ids.
func NewIDSlice(ids []ID) IDSlice {
	s := make(IDSlice, len(ids))
	copy(s, ids)
	s.Sort()
	return s
}

// Sequential returns the IDs 1, …, n.
func Sequential(n int) IDSlice {
	s := make(IDSlice, n)
	for i := range s {
		s[i] = ID(i + 1)
	}
	return s
}

func (partyIDs IDSlice) Len() int           { return len(partyIDs) }
func (partyIDs IDSlice) Less(i, j int) bool { return partyIDs[i] < partyIDs[j] }
func (partyIDs IDSlice) Swap(i, j int)      { partyIDs[i], partyIDs[j] = partyIDs[j], partyIDs[i] }

// Sort is a convenience method: x.Sort() calls Sort(x).
func (partyIDs IDSlice) Sort() { sort.Sort(partyIDs) }

// Valid returns true if partyIDs is sorted, contains no duplicates and no 0.
func (partyIDs IDSlice) Valid() bool {
	for i, id := range partyIDs {
		if id == 0 {
			return false
		}
		if i > 0 && partyIDs[i-1] >= id {
			return false
		}
	}
	return true
}

// Contains returns true if partyIDs contains id.
// Assumes that partyIDs is sorted.
func (partyIDs IDSlice) Contains(id ID) bool {
	_, ok := partyIDs.Search(id)
	return ok
}

// Search returns the index of x, and whether it was found.
// Assumes that partyIDs is sorted.
func (partyIDs IDSlice) Search(x ID) (int, bool) {
	index := sort.Search(len(partyIDs), func(i int) bool { return partyIDs[i] >= x })
	if index < len(partyIDs) && partyIDs[index] == x {
		return index, true
	}
	return 0, false
}

// WriteTo implements io.WriterTo and should be used within the hash.Hash function.
func (partyIDs IDSlice) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, uint32(len(partyIDs))); err != nil {
		return 0, err
	}
	nAll := int64(4)
	for _, id := range partyIDs {
		n, err := id.WriteTo(w)
		nAll += n
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.Value.
func (IDSlice) Domain() string {
	return "IDSlice"
}
