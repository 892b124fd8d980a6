package protocol

// Records is a batch of wire records. Batching keeps the network path in
// [][]byte form end to end, converts directly to net.Buffers for writev,
// and lets queues hand off many records under one lock acquisition.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}
