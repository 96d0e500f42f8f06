package gossip

import "strings"

// Status state names, carried as the value of the STATUS application
// state, comma-joined with their arguments (tokens, host-id, expire).
const (
	StatusBootstrapping  = "BOOTSTRAPPING"
	StatusNormal         = "NORMAL"
	StatusLeaving        = "LEAVING"
	StatusLeft           = "LEFT"
	StatusMoving         = "MOVING"
	StatusRemovingToken  = "REMOVING_TOKEN"
	StatusRemovedToken   = "REMOVED_TOKEN"
	StatusHibernate      = "HIBERNATE"
	StatusShutdown       = "SHUTDOWN"
)

// deadStates are STATUS values that mark an endpoint as not a live
// member, independent of what the failure detector reports.
var deadStates = map[string]bool{
	StatusRemovingToken: true,
	StatusRemovedToken:  true,
	StatusLeft:          true,
	StatusHibernate:     true,
}

// silentShutdownStates additionally treats BOOTSTRAPPING as dead for the
// purpose of silent-shutdown detection (a node that never finished
// joining and went quiet).
var silentShutdownStates = map[string]bool{
	StatusRemovingToken: true,
	StatusRemovedToken:  true,
	StatusLeft:          true,
	StatusHibernate:     true,
	StatusBootstrapping: true,
}

// IsDeadStatus reports whether status names one of the dead states.
func IsDeadStatus(status string) bool {
	name, _ := ParseStatus(status)
	return deadStates[name]
}

// IsSilentShutdownStatus reports whether status is one of the states
// that additionally count toward silent-shutdown handling.
func IsSilentShutdownStatus(status string) bool {
	name, _ := ParseStatus(status)
	return silentShutdownStates[name]
}

// ParseStatus splits a comma-joined STATUS value into its state name and
// positional arguments (tokens, host-id, expire, as the state demands).
func ParseStatus(value string) (name string, args []string) {
	parts := strings.Split(value, ",")
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// FormatStatus joins a state name and its arguments into the wire form.
func FormatStatus(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), ",")
}
