package control

// Mode is the StorageServiceController's own lifecycle state, distinct
// from the gossiped STATUS value: STATUS is what this node announces to
// peers, Mode is what it locally believes about itself right now.
type Mode uint8

const (
	ModeStarting Mode = iota
	ModeJoining
	ModeNormal
	ModeLeaving
	ModeDecommissioned
	ModeMoving
	ModeDraining
	ModeDrained
)

func (m Mode) String() string {
	switch m {
	case ModeStarting:
		return "STARTING"
	case ModeJoining:
		return "JOINING"
	case ModeNormal:
		return "NORMAL"
	case ModeLeaving:
		return "LEAVING"
	case ModeDecommissioned:
		return "DECOMMISSIONED"
	case ModeMoving:
		return "MOVING"
	case ModeDraining:
		return "DRAINING"
	case ModeDrained:
		return "DRAINED"
	default:
		return "UNKNOWN"
	}
}

// Ordinal is Mode's position in the enum, the form metrics.RingSource
// reports it in.
func (m Mode) Ordinal() int { return int(m) }
