package scanner

import "campusnav/presence-server/internal/model"

type bufferEntry struct {
	facultyID string
	tagID     string
	rssi      int
}

// cycleBuffer collapses repeated sightings of the same person within one
// scan window. Capacity is fixed; once full, newly seen persons are
// dropped for the rest of the cycle. The buffer is owned by the scanner
// and reset at the start of every cycle.
type cycleBuffer struct {
	capacity int
	entries  []bufferEntry
}

func newCycleBuffer(capacity int) *cycleBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &cycleBuffer{capacity: capacity, entries: make([]bufferEntry, 0, capacity)}
}

func (b *cycleBuffer) reset() {
	b.entries = b.entries[:0]
}

// add records a sighting. A person already buffered keeps the stronger
// reading (RSSI closer to zero) and takes that advertisement's tag id.
// Returns false only when a new person is dropped for lack of capacity.
func (b *cycleBuffer) add(facultyID, tagID string, rssi int) bool {
	for i := range b.entries {
		if b.entries[i].facultyID == facultyID {
			if rssi > b.entries[i].rssi {
				b.entries[i].rssi = rssi
				b.entries[i].tagID = tagID
			}
			return true
		}
	}
	if len(b.entries) >= b.capacity {
		return false
	}
	b.entries = append(b.entries, bufferEntry{facultyID: facultyID, tagID: tagID, rssi: rssi})
	return true
}

func (b *cycleBuffer) len() int {
	return len(b.entries)
}

// detections materializes one wire record per buffered person.
func (b *cycleBuffer) detections(scannerID, room string) []model.Detection {
	out := make([]model.Detection, 0, len(b.entries))
	for i := range b.entries {
		entry := b.entries[i]
		var tagID *string
		if entry.tagID != "" {
			tag := entry.tagID
			tagID = &tag
		}
		out = append(out, model.Detection{
			FacultyID: entry.facultyID,
			TagID:     tagID,
			ScannerID: scannerID,
			Room:      room,
			RSSI:      entry.rssi,
		})
	}
	return out
}
