package gossip

import "encoding/json"

// synMessage is the GOSSIP_DIGEST_SYN payload: a randomized digest list
// plus the names used to reject foreign clusters and partitioners.
type synMessage struct {
	ClusterName     string
	PartitionerName string
	Digests         []GossipDigest
}

// ackMessage is the GOSSIP_DIGEST_ACK payload: digests the sender should
// answer in full (RequestedDigests), plus state deltas pushed
// unprompted (StateDeltas).
type ackMessage struct {
	RequestedDigests []GossipDigest
	StateDeltas      map[string]*EndpointState
}

// ack2Message is the GOSSIP_DIGEST_ACK2 payload: the final state push
// answering the ACK's requested digests.
type ack2Message struct {
	StateDeltas map[string]*EndpointState
}

func encodeSyn(m synMessage) ([]byte, error)   { return json.Marshal(m) }
func decodeSyn(b []byte) (synMessage, error)   { var m synMessage; err := json.Unmarshal(b, &m); return m, err }
func encodeAck(m ackMessage) ([]byte, error)   { return json.Marshal(m) }
func decodeAck(b []byte) (ackMessage, error)   { var m ackMessage; err := json.Unmarshal(b, &m); return m, err }
func encodeAck2(m ack2Message) ([]byte, error) { return json.Marshal(m) }
func decodeAck2(b []byte) (ack2Message, error) {
	var m ack2Message
	err := json.Unmarshal(b, &m)
	return m, err
}
