package syncmsg

// Heartbeat is the body clients SEND to the heartbeat destination every 30
// seconds. The server drops sessions silent for two intervals.
type Heartbeat struct {
	ClientID string `json:"cid"`
}
