package domain

// BuildIdempotencyKey scopes a client supplied key to the sending account,
// so two senders may reuse the same key independently.
func BuildIdempotencyKey(senderID, clientKey string) string {
	if clientKey == "" {
		return ""
	}
	return senderID + ":" + clientKey
}
