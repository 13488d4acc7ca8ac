package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID           uuid.UUID `json:"id"`
	ActorAddress *string   `json:"actor_address,omitempty"`
	ActorType    string    `json:"actor_type"` // buyer/provider/admin/system
	Action       string    `json:"action"`
	EntityType   string    `json:"entity_type"`
	EntityID     *string   `json:"entity_id,omitempty"`
	Meta         any       `json:"meta,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
