package token

import "fmt"

// Ownership reports the fraction of the ring a sorted token owns, per
// describe_ownership: the distance back to the previous token in sorted
// order, wrapping around for the first entry.
type Ownership struct {
	Token    Token
	Fraction float64
}

// Partitioner maps partition keys onto the ring and reasons about shard
// affinity for a fixed per-process shard count. Implementations are
// registered by name through Register/New instead of relying on a class
// hierarchy, so new partitioners only need to appear in the factory map.
type Partitioner interface {
	Name() string
	TokenOf(partitionKey []byte) Token
	Midpoint(a, b Token) Token
	Compare(a, b Token) int
	ShardCount() int
	ShardOf(t Token) int
	TokenForNextShard(t Token) Token
	ShardOfMinimumToken() int
	DescribeOwnership(sortedTokens []Token) []Ownership
}

var registry = map[string]func(cfg Config) Partitioner{}

// Config configures a partitioner instance at construction time.
type Config struct {
	ShardCount int
	IgnoreMSB  int
}

// Register adds a partitioner constructor under name. Called from each
// partitioner implementation's init().
func Register(name string, ctor func(cfg Config) Partitioner) {
	registry[name] = ctor
}

// New constructs the named partitioner, or an error if it was never
// registered.
func New(name string, cfg Config) (Partitioner, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("token: unknown partitioner %q", name)
	}
	return ctor(cfg), nil
}

// describeOwnership computes the generic describe_ownership result common
// to every partitioner: each sorted token's fraction is the ring distance
// back to the previous token (wrapping for the first entry), expressed
// relative to the partitioner's own Midpoint-compatible byte-fraction space
// via byteFraction.
func describeOwnership(sorted []Token, byteFraction func(Token) float64) []Ownership {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]Ownership, len(sorted))
	for i, t := range sorted {
		var prevFrac float64
		if i == 0 {
			prevFrac = byteFraction(sorted[len(sorted)-1])
		} else {
			prevFrac = byteFraction(sorted[i-1])
		}
		frac := byteFraction(t) - prevFrac
		if frac <= 0 {
			frac += 1.0
		}
		out[i] = Ownership{Token: t, Fraction: frac}
	}
	return out
}
