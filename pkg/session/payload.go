package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPayload is returned when a checkpoint is resumed without data.
var ErrEmptyPayload = errors.New("empty command payload")

// Credentials resumes the login checkpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ShippingAddress resumes the shipping checkpoint.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"address1"`
	Line2      string `json:"address2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"zip"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Card resumes the payment checkpoint.
type Card struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// Receipt resumes the final review checkpoint.
type Receipt struct {
	Email string `json:"email"`
}

// Decode unmarshals a gate payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, ErrEmptyPayload
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T payload: %w", out, err)
	}
	return out, nil
}

// DecodeMode reads a mode command. Both a bare string ("auto") and an object
// with a mode field ({"mode": "manual"}) are accepted.
func DecodeMode(raw json.RawMessage) (Mode, error) {
	if len(raw) == 0 {
		return "", ErrEmptyPayload
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseMode(strings.ToLower(strings.TrimSpace(s)))
	}
	var obj struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("decode mode payload: %w", err)
	}
	return ParseMode(strings.ToLower(strings.TrimSpace(obj.Mode)))
}
