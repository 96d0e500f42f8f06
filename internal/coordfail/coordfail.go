/*
Package coordfail defines the coordinator's typed error taxonomy and its
mapping onto the Cassandra CQL native protocol's numeric exception codes.

Error tags a failure with one of the Kind values below, and WireCodeFor
translates a Kind into the wire code. The typed errors the coordinators
return (Unavailable, WriteTimeout, ReadTimeout, IncompatibleFeatures) are
separate structs that carry their own fields and no Kind.
*/
package coordfail

import "fmt"

// Kind classifies a coordinator failure:
// unavailability, timeout, overload, topology, feature incompatibility,
// schema absence, and transport.
type Kind uint8

const (
	KindUnavailable Kind = iota
	KindWriteTimeout
	KindReadTimeout
	KindOverloaded
	KindIsBootstrapping
	KindTruncateError
	KindTopology
	KindIncompatibleFeatures
	KindSchemaAbsent
	KindTransport
	KindInvalid
	KindSyntaxError
	KindUnauthorized
	KindConfigError
	KindAlreadyExists
	KindUnprepared
	KindProtocolError
	KindBadCredentials
	KindServerError
)

// WireCode is the CQL native protocol's numeric exception code.
type WireCode uint16

var wireCodes = map[Kind]WireCode{
	KindServerError:     0x0000,
	KindProtocolError:   0x000A,
	KindBadCredentials:  0x0100,
	KindUnavailable:     0x1000,
	KindOverloaded:      0x1001,
	KindIsBootstrapping: 0x1002,
	KindTruncateError:   0x1003,
	KindWriteTimeout:    0x1100,
	KindReadTimeout:     0x1200,
	KindSyntaxError:     0x2000,
	KindUnauthorized:    0x2100,
	KindInvalid:         0x2200,
	KindConfigError:     0x2300,
	KindAlreadyExists:   0x2400,
	KindUnprepared:      0x2500,
}

// Non-wire-coded kinds surface internally (topology churn, feature
// negotiation, schema races, transport failure) and are translated to one
// of the wire kinds above at the RPC boundary rather than carrying their
// own code.
var internalFallback = map[Kind]Kind{
	KindTopology:             KindUnavailable,
	KindIncompatibleFeatures: KindConfigError,
	KindSchemaAbsent:         KindInvalid,
	KindTransport:            KindServerError,
}

// WireCodeFor returns the CQL native protocol code for kind, resolving
// internal-only kinds through their documented fallback.
func WireCodeFor(kind Kind) WireCode {
	if code, ok := wireCodes[kind]; ok {
		return code
	}
	if fallback, ok := internalFallback[kind]; ok {
		return wireCodes[fallback]
	}
	return wireCodes[KindServerError]
}

// Error is a coordinator failure tagged with its Kind, wrapping an
// underlying cause where one exists.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Unavailable reports that fewer live replicas were found than the
// consistency level requires; it carries the same fields the write and
// read paths need to build a client-facing UNAVAILABLE response.
type Unavailable struct {
	ConsistencyLevel string
	Required         int
	Alive            int
}

func (e *Unavailable) Error() string {
	return fmt.Sprintf("unavailable: need %d replicas at %s, %d alive", e.Required, e.ConsistencyLevel, e.Alive)
}

// WriteTimeout reports a write that did not reach block_for acks before
// its deadline.
type WriteTimeout struct {
	Received  int
	BlockFor  int
	WriteType string
}

func (e *WriteTimeout) Error() string {
	return fmt.Sprintf("write timeout: %d/%d acks (%s)", e.Received, e.BlockFor, e.WriteType)
}

// ReadTimeout reports a read that did not reach block_for responses
// before its deadline.
type ReadTimeout struct {
	Received    int
	BlockFor    int
	DataPresent bool
}

func (e *ReadTimeout) Error() string {
	return fmt.Sprintf("read timeout: %d/%d responses (data present: %v)", e.Received, e.BlockFor, e.DataPresent)
}

// IncompatibleFeatures reports a joining node missing a feature already
// active cluster-wide.
type IncompatibleFeatures struct {
	Missing []string
}

func (e *IncompatibleFeatures) Error() string {
	return fmt.Sprintf("incompatible features: missing %v", e.Missing)
}
