package domain

import (
	"encoding/json"
	"strings"
)

// SessionID identifies a charging session across parties.
type SessionID struct {
	countryCode string
	partyID     string
	id          string
}

func NewSessionID(countryCode, partyID, id string) (SessionID, error) {
	switch {
	case len(countryCode) != 2:
		return SessionID{}, invalid("country_code", "must be exactly 2 characters")
	case len(partyID) != 3:
		return SessionID{}, invalid("party_id", "must be exactly 3 characters")
	case len(id) == 0 || len(id) > 36:
		return SessionID{}, invalid("id", "must be 1 to 36 characters")
	}
	return SessionID{countryCode: countryCode, partyID: partyID, id: id}, nil
}

func (s SessionID) CountryCode() string { return s.countryCode }
func (s SessionID) PartyID() string     { return s.partyID }
func (s SessionID) ID() string          { return s.id }

// Value is the canonical "{country}*{party}*{id}" form.
func (s SessionID) Value() string {
	return strings.Join([]string{s.countryCode, s.partyID, s.id}, "*")
}

func (s SessionID) String() string { return s.Value() }

func (s SessionID) Equal(other SessionID) bool {
	return s.Value() == other.Value()
}

type sessionIDJSON struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
	ID          string `json:"id"`
}

func (s SessionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionIDJSON{CountryCode: s.countryCode, PartyID: s.partyID, ID: s.id})
}

func (s *SessionID) UnmarshalJSON(data []byte) error {
	var raw sessionIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewSessionID(raw.CountryCode, raw.PartyID, raw.ID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
