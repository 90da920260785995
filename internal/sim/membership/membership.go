// Package membership keeps the per-player transient state of the membership
// flow: pending invitations and dissolve confirmations. Expiry is checked
// lazily whenever an entry is read.
package membership

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultInviteTTL     = 5 * time.Minute
	DefaultConfirmWindow = 10 * time.Second
)

type Invite struct {
	From      uuid.UUID `json:"from"`
	Target    uuid.UUID `json:"target"`
	ClaimID   int64     `json:"claim_id"`
	UnitName  string    `json:"unit_name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (i Invite) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

type Book struct {
	inviteTTL     time.Duration
	confirmWindow time.Duration

	invites  map[uuid.UUID][]Invite
	confirms map[uuid.UUID]time.Time
}

func NewBook(inviteTTL, confirmWindow time.Duration) *Book {
	if inviteTTL <= 0 {
		inviteTTL = DefaultInviteTTL
	}
	if confirmWindow <= 0 {
		confirmWindow = DefaultConfirmWindow
	}
	return &Book{
		inviteTTL:     inviteTTL,
		confirmWindow: confirmWindow,
		invites:       map[uuid.UUID][]Invite{},
		confirms:      map[uuid.UUID]time.Time{},
	}
}

// Invite records an invitation. A repeated invite to the same claim replaces the older one.
func (b *Book) Invite(now time.Time, from, target uuid.UUID, claimID int64, unitName string) Invite {
	inv := Invite{
		From:      from,
		Target:    target,
		ClaimID:   claimID,
		UnitName:  unitName,
		CreatedAt: now,
		ExpiresAt: now.Add(b.inviteTTL),
	}
	list := b.live(now, target)
	kept := list[:0]
	for _, old := range list {
		if old.ClaimID != claimID {
			kept = append(kept, old)
		}
	}
	b.invites[target] = append(kept, inv)
	return inv
}

// Pending lists live invitations, most recent first.
func (b *Book) Pending(now time.Time, target uuid.UUID) []Invite {
	list := b.live(now, target)
	out := make([]Invite, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Take removes and returns the target's most recent live invitation.
func (b *Book) Take(now time.Time, target uuid.UUID) (Invite, bool) {
	list := b.live(now, target)
	if len(list) == 0 {
		return Invite{}, false
	}
	best := 0
	for i, inv := range list {
		if !inv.CreatedAt.Before(list[best].CreatedAt) {
			best = i
		}
	}
	inv := list[best]
	list = append(list[:best], list[best+1:]...)
	if len(list) == 0 {
		delete(b.invites, target)
	} else {
		b.invites[target] = list
	}
	return inv, true
}

// Forget drops every invitation pointing at a claim.
func (b *Book) Forget(claimID int64) {
	for target, list := range b.invites {
		kept := list[:0]
		for _, inv := range list {
			if inv.ClaimID != claimID {
				kept = append(kept, inv)
			}
		}
		if len(kept) == 0 {
			delete(b.invites, target)
		} else {
			b.invites[target] = kept
		}
	}
}

func (b *Book) live(now time.Time, target uuid.UUID) []Invite {
	list := b.invites[target]
	kept := list[:0]
	for _, inv := range list {
		if !inv.Expired(now) {
			kept = append(kept, inv)
		}
	}
	if len(kept) == 0 {
		delete(b.invites, target)
		return nil
	}
	b.invites[target] = kept
	return kept
}

// Confirm implements the two-step confirmation. The first call arms it and
// returns false; a second call inside the window returns true and disarms it.
func (b *Book) Confirm(now time.Time, actor uuid.UUID) bool {
	if at, ok := b.confirms[actor]; ok && now.Sub(at) <= b.confirmWindow {
		delete(b.confirms, actor)
		return true
	}
	b.confirms[actor] = now
	return false
}

func (b *Book) ConfirmWindow() time.Duration { return b.confirmWindow }
