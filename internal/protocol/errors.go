package protocol

import (
	"errors"

	"voxelclaims.ai/internal/sim/model"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Claim operations.
	ErrAlreadyClaimed    = "E_ALREADY_CLAIMED"
	ErrConflict          = "E_CONFLICT"
	ErrNotFound          = "E_NOT_FOUND"
	ErrNoPermission      = "E_NO_PERMISSION"
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrAnchorInCell      = "E_ANCHOR_IN_CELL"
	ErrNameTaken         = "E_NAME_TAKEN"
	ErrNotConfirmed      = "E_NOT_CONFIRMED"
	ErrBadRequest        = "E_BAD_REQUEST"

	ErrStore    = "E_STORE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrAlreadyClaimed:    {},
	ErrConflict:          {},
	ErrNotFound:          {},
	ErrNoPermission:      {},
	ErrInsufficientFunds: {},
	ErrAnchorInCell:      {},
	ErrNameTaken:         {},
	ErrNotConfirmed:      {},
	ErrBadRequest:        {},
	ErrStore:             {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an operation error onto its wire code.
func CodeFor(err error) string {
	var ce *model.ConflictError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ErrConflict
	case errors.Is(err, model.ErrAlreadyClaimed):
		return ErrAlreadyClaimed
	case errors.Is(err, model.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, model.ErrPermissionDenied):
		return ErrNoPermission
	case errors.Is(err, model.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, model.ErrAnchorInCell):
		return ErrAnchorInCell
	case errors.Is(err, model.ErrNameTaken):
		return ErrNameTaken
	case errors.Is(err, model.ErrNotConfirmed):
		return ErrNotConfirmed
	case errors.Is(err, model.ErrInvalid):
		return ErrBadRequest
	case errors.Is(err, model.ErrStore):
		return ErrStore
	default:
		return ErrInternal
	}
}
