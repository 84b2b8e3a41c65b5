package model

import "time"

// CopyStatus is the availability state of a physical copy.
type CopyStatus string

const (
	CopyAvailable   CopyStatus = "AVAILABLE"
	CopyBorrowed    CopyStatus = "BORROWED"
	CopyReserved    CopyStatus = "RESERVED"
	CopyMaintenance CopyStatus = "MAINTENANCE"
)

// Valid reports whether s is one of the four known statuses.
func (s CopyStatus) Valid() bool {
	switch s {
	case CopyAvailable, CopyBorrowed, CopyReserved, CopyMaintenance:
		return true
	}
	return false
}

// ParseCopyStatus validates a raw status value.
func ParseCopyStatus(raw string) (CopyStatus, bool) {
	s := CopyStatus(raw)
	return s, s.Valid()
}

var copyEdges = map[CopyStatus]map[CopyStatus]bool{
	CopyAvailable:   {CopyBorrowed: true, CopyReserved: true},
	CopyBorrowed:    {CopyAvailable: true},
	CopyReserved:    {CopyBorrowed: true, CopyAvailable: true},
	CopyMaintenance: {CopyAvailable: true},
}

// CanTransition reports whether the ledger accepts the edge from -> to.
// Any status may move to MAINTENANCE; only MAINTENANCE -> AVAILABLE leaves it.
func CanTransition(from, to CopyStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == CopyMaintenance {
		return from != CopyMaintenance
	}
	return copyEdges[from][to]
}

// Copy is one physical, lendable unit of a title. It corresponds to a row
// in the `copies` table. Status is the only source of truth for whether the
// copy may be lent and is changed exclusively through ledger transitions.
//
// Fields:
//
//	ID        – copy identifier (barcode-like, assigned by the catalog).
//	TitleID   – catalog title this copy is an instance of.
//	Location  – shelf or branch location label.
//	Status    – AVAILABLE, BORROWED, RESERVED or MAINTENANCE.
//	UpdatedAt – time of the last status change.
type Copy struct {
	ID        CopyID     `json:"id" db:"id"`                // copies.id
	TitleID   TitleID    `json:"titleId" db:"title_id"`     // copies.title_id
	Location  string     `json:"location" db:"location"`    // copies.location
	Status    CopyStatus `json:"status" db:"status"`        // copies.status
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"` // copies.updated_at
}
