package model

import "time"

// Detection is a single scanner's report of one person's presence during
// one scan cycle. It is the wire record published by scanners and consumed
// by the backend; only the latest survives per person.
type Detection struct {
	FacultyID string  `json:"facultyId"`
	TagID     *string `json:"tagId"`
	ScannerID string  `json:"scannerId"`
	Room      string  `json:"room"`
	RSSI      int     `json:"rssi"`
}

// LocationRecord is the persisted current location for one tracked person.
// Exactly zero or one record exists per FacultyID.
type LocationRecord struct {
	FacultyID string    `json:"facultyId"`
	TagID     *string   `json:"tagId"`
	ScannerID string    `json:"scannerId"`
	Room      string    `json:"room"`
	RSSI      int       `json:"rssi"`
	LastSeen  time.Time `json:"lastSeen"`
}

// FacultyMember maps a human-readable identity to a faculty id. The
// directory is maintained separately from tracking; ingestion never
// consults it.
type FacultyMember struct {
	FacultyID  string `json:"facultyId"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// IngestionError captures a payload that failed validation.
type IngestionError struct {
	ScannerID string `json:"scannerId"`
	Payload   string `json:"payload"`
	Reason    string `json:"reason"`
}
