package protocol

import "time"

// Event kinds.
const (
	EventClaimed        = "CLAIMED"
	EventUnclaimed      = "UNCLAIMED"
	EventRegionCreated  = "REGION_CREATED"
	EventRegionDeleted  = "REGION_DELETED"
	EventMerged         = "MERGED"
	EventDissolved      = "DISSOLVED"
	EventTransferred    = "TRANSFERRED"
	EventRenamed        = "RENAMED"
	EventSettings       = "SETTINGS_CHANGED"
	EventHomeSet        = "HOME_SET"
	EventInvited        = "INVITED"
	EventMemberJoined   = "MEMBER_JOINED"
	EventMemberLeft     = "MEMBER_LEFT"
	EventBanned         = "BANNED"
	EventUnbanned       = "UNBANNED"
	EventAnchorCreated  = "ANCHOR_CREATED"
	EventAnchorRelocate = "ANCHOR_RELOCATED"
	EventAnchorBroken   = "ANCHOR_BROKEN"
	EventReconciled     = "ANCHOR_RECONCILED"
	EventDeposit        = "DEPOSIT"
	EventWithdraw       = "WITHDRAW"
	EventDrained        = "DRAINED"
	EventReloaded       = "RELOADED"
)

// Event is one state change published to the feed and the audit log.
type Event struct {
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	Actor    string    `json:"actor,omitempty"`
	World    string    `json:"world,omitempty"`
	ClaimID  int64     `json:"claim_id,omitempty"`
	RegionID int64     `json:"region_id,omitempty"`
	Cell     *Cell     `json:"cell,omitempty"`
	Target   string    `json:"target,omitempty"`
	Name     string    `json:"name,omitempty"`
	Amount   float64   `json:"amount,omitempty"`
	Seconds  int64     `json:"seconds,omitempty"`
	Count    int64     `json:"count,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

type Cell struct {
	X int `json:"x"`
	Z int `json:"z"`
}
