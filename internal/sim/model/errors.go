package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyClaimed    = errors.New("cell already claimed")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStore             = errors.New("store failure")

	ErrAnchorInCell = errors.New("cell holds the power cell; break it first")
	ErrNameTaken    = errors.New("name already taken")
	ErrInvalid      = errors.New("invalid request")
	ErrNotConfirmed = errors.New("confirmation required")
)

// Candidate is one owning unit a player could merge a new claim into.
type Candidate struct {
	Unit UnitRef `json:"unit"`
	Name string  `json:"name"`
}

// ConflictError is returned when a claimed cell touches more than one of the player's units.
type ConflictError struct {
	Cell       CellKey
	Candidates []Candidate
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Unit, c.Name))
	}
	return fmt.Sprintf("cell %s touches %d of your claims, pick one: %s", e.Cell, len(e.Candidates), strings.Join(parts, ", "))
}

// StoreErr wraps a persistence failure so errors.Is(err, ErrStore) holds.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStore, err)
}

var domainErrs = []error{
	ErrAlreadyClaimed, ErrNotFound, ErrPermissionDenied, ErrInsufficientFunds, ErrStore,
	ErrAnchorInCell, ErrNameTaken, ErrInvalid, ErrNotConfirmed,
}

// IsDomain reports whether err already carries one of the taxonomy errors.
func IsDomain(err error) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return true
	}
	for _, e := range domainErrs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
