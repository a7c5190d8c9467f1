package models

import (
	"errors"
	"strconv"
	"strings"
)

// ReservationStatus is the closed set of reservation states. The column is a
// MySQL enum; any other value read back is a data-integrity violation.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusAccepted  ReservationStatus = "accepted"
	ReservationStatusDeclined  ReservationStatus = "declined"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// ParseReservationStatus normalizes user input ("Pending", "ACCEPTED") into a
// valid status. Returns ErrInvalidStatus for anything outside the enum.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return ReservationStatusPending, nil
	case "accepted":
		return ReservationStatusAccepted, nil
	case "declined":
		return ReservationStatusDeclined, nil
	case "cancelled":
		return ReservationStatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

// IsActive reports whether a reservation in this status currently holds
// stock. Active statuses keep their quantity deducted from the product
// ledger; inactive ones have released it back.
func (s ReservationStatus) IsActive() bool {
	return s == ReservationStatusPending || s == ReservationStatusAccepted
}

func (s ReservationStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *ReservationStatus) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("reservation status must be a string")
	}
	parsed, err := ParseReservationStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
