package history

import (
	"github.com/atlasflow/durable/backend/payload"
)

type SignalReceivedAttributes struct {
	Name string `json:"name,omitempty"`

	Arg payload.Payload `json:"arg,omitempty"`
}
