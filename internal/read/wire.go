package read

import "encoding/json"

// dataRequest is the READ_DATA / READ_MUTATION_DATA verb's wire payload.
type dataRequest struct {
	Keyspace  string
	Table     string
	Key       []byte
	Limit     int
	Timestamp int64
}

// digestRequest is the READ_DIGEST verb's wire payload, a type alias of
// dataRequest: both verbs carry the same fields.
type digestRequest = dataRequest

type dataReply struct {
	Rows                []Row
	ReachedEnd          bool
	ReachedPartitionEnd bool
	LastModifiedUnixNano int64
}

type digestReply struct {
	Hash                 string
	LastModifiedUnixNano int64
}

func encodeDataRequest(r dataRequest) ([]byte, error) { return json.Marshal(r) }
func decodeDataRequest(b []byte) (dataRequest, error) {
	var r dataRequest
	err := json.Unmarshal(b, &r)
	return r, err
}

func encodeDataReply(r dataReply) ([]byte, error) { return json.Marshal(r) }
func decodeDataReply(b []byte) (dataReply, error) {
	var r dataReply
	err := json.Unmarshal(b, &r)
	return r, err
}

func encodeDigestReply(r digestReply) ([]byte, error) { return json.Marshal(r) }
func decodeDigestReply(b []byte) (digestReply, error) {
	var r digestReply
	err := json.Unmarshal(b, &r)
	return r, err
}
