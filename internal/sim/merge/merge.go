// Package merge decides how a newly claimed cell relates to the claimant's
// neighboring claims.
package merge

import (
	"fmt"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

type Outcome int

const (
	Standalone Outcome = iota + 1
	JoinRegion
	Promote
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Standalone:
		return "standalone"
	case JoinRegion:
		return "join"
	case Promote:
		return "promote"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// Lookup is the read side of the registry the resolver needs.
type Lookup interface {
	ClaimAt(model.CellKey) *model.Claim
	Claim(id int64) *model.Claim
	Region(id int64) *model.Region
	UnitName(model.UnitRef) string
}

type Decision struct {
	Outcome Outcome
	// Target is the region to join, or the standalone claim to promote.
	Target     model.UnitRef
	Candidates []model.Candidate
}

// Candidates returns the distinct owning units among the cell's neighbors that
// belong to owner, in north, south, west, east order.
func Candidates(l Lookup, owner uuid.UUID, cell model.CellKey) []model.UnitRef {
	var out []model.UnitRef
	seen := map[model.UnitRef]bool{}
	for _, n := range cell.Neighbors() {
		c := l.ClaimAt(n)
		if c == nil || c.Owner != owner {
			continue
		}
		u := c.Unit()
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Resolve classifies a claim on cell. A Conflict decision is also returned as a
// *model.ConflictError.
func Resolve(l Lookup, owner uuid.UUID, cell model.CellKey) (Decision, error) {
	units := Candidates(l, owner, cell)
	switch len(units) {
	case 0:
		return Decision{Outcome: Standalone}, nil
	case 1:
		return single(units[0]), nil
	}
	d := Decision{Outcome: Conflict}
	for _, u := range units {
		d.Candidates = append(d.Candidates, model.Candidate{Unit: u, Name: l.UnitName(u)})
	}
	return d, &model.ConflictError{Cell: cell, Candidates: d.Candidates}
}

// ResolveInto forces the single-candidate path toward target. The target must
// be one of the cell's candidate units; a claim id inside a region resolves to
// that region.
func ResolveInto(l Lookup, owner uuid.UUID, cell model.CellKey, target model.UnitRef) (Decision, error) {
	target, err := normalize(l, owner, target)
	if err != nil {
		return Decision{}, err
	}
	for _, u := range Candidates(l, owner, cell) {
		if u == target {
			return single(target), nil
		}
	}
	return Decision{}, fmt.Errorf("%w: %s does not border cell %d,%d", model.ErrInvalid, target, cell.X, cell.Z)
}

func normalize(l Lookup, owner uuid.UUID, u model.UnitRef) (model.UnitRef, error) {
	switch u.Kind {
	case model.UnitRegion:
		rg := l.Region(u.ID)
		if rg == nil {
			return u, fmt.Errorf("%w: region %d", model.ErrNotFound, u.ID)
		}
		if rg.Owner != owner {
			return u, fmt.Errorf("%w: region %d is not yours", model.ErrPermissionDenied, u.ID)
		}
		return u, nil
	case model.UnitClaim:
		c := l.Claim(u.ID)
		if c == nil {
			return u, fmt.Errorf("%w: claim %d", model.ErrNotFound, u.ID)
		}
		if c.Owner != owner {
			return u, fmt.Errorf("%w: claim %d is not yours", model.ErrPermissionDenied, u.ID)
		}
		return c.Unit(), nil
	}
	return u, fmt.Errorf("%w: unit %s", model.ErrInvalid, u)
}

func single(u model.UnitRef) Decision {
	if u.Kind == model.UnitRegion {
		return Decision{Outcome: JoinRegion, Target: u}
	}
	return Decision{Outcome: Promote, Target: u}
}
