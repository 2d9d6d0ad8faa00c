package payload

// Payload is a serialized value passed between workflows and activities. The
// configured converter determines the encoding, JSON by default.
type Payload []byte
