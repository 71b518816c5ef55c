package forms

import (
	"encoding/json"
	"time"
)

// FormRecord is a form template owned by the platform. The template body is
// stored as opaque JSON; the engine never interprets it.
type FormRecord struct {
	ID        string          `json:"id"`
	NameEn    string          `json:"name_en"`
	NameFr    string          `json:"name_fr"`
	Published bool            `json:"published"`
	Template  json.RawMessage `json:"template"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FormInput carries the writable fields of a form record.
type FormInput struct {
	NameEn   string          `json:"name_en" validate:"required,max=200"`
	NameFr   string          `json:"name_fr" validate:"max=200"`
	Template json.RawMessage `json:"template" validate:"required"`
}
