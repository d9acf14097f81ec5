package core

import (
	"github.com/google/uuid"

	"pkt.systems/poiconsole/schema"
)

func newAttemptID() schema.AttemptID {
	id, err := uuid.NewV7()
	if err != nil {
		return schema.AttemptID(uuid.NewString())
	}
	return schema.AttemptID(id.String())
}
