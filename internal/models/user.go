// internal/models/user.go
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SessionUser is the canonical signed-in user. It is built once at login
// and is the only shape persisted in the session store.
type SessionUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Nom        string `json:"nom"`
	Prenom     string `json:"prenom"`
	Telephone  string `json:"telephone,omitempty"`
	Adresse    string `json:"adresse,omitempty"`
	Entreprise string `json:"entreprise,omitempty"`
	Role       string `json:"role,omitempty"`
	Photo      string `json:"photo,omitempty"`
}

// DisplayName returns "Prenom Nom", falling back to the email.
func (u SessionUser) DisplayName() string {
	name := strings.TrimSpace(u.Prenom + " " + u.Nom)
	if name == "" {
		return u.Email
	}
	return name
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up request body.
type Registration struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Nom        string `json:"nom"`
	Prenom     string `json:"prenom"`
	Telephone  string `json:"telephone,omitempty"`
	Adresse    string `json:"adresse,omitempty"`
	Entreprise string `json:"entreprise,omitempty"`
}

// ProfileUpdate carries the editable profile fields. Photo is a base64
// data URI when set.
type ProfileUpdate struct {
	Nom        string `json:"nom,omitempty"`
	Prenom     string `json:"prenom,omitempty"`
	Telephone  string `json:"telephone,omitempty"`
	Adresse    string `json:"adresse,omitempty"`
	Entreprise string `json:"entreprise,omitempty"`
	Photo      string `json:"photo,omitempty"`
}

// Apply returns u with the non-empty fields of upd written over it.
func (u SessionUser) Apply(upd ProfileUpdate) SessionUser {
	for dst, v := range map[*string]string{
		&u.Nom:        upd.Nom,
		&u.Prenom:     upd.Prenom,
		&u.Telephone:  upd.Telephone,
		&u.Adresse:    upd.Adresse,
		&u.Entreprise: upd.Entreprise,
		&u.Photo:      upd.Photo,
	} {
		if v != "" {
			*dst = v
		}
	}
	return u
}

// UserRef is a reference to the owning user. The backend sends either a
// bare id or a populated user object.
type UserRef struct {
	ID  string
	Nom string
}

func (r *UserRef) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*r = UserRef{}
		return nil
	}

	switch s[0] {
	case '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = UserRef{ID: id}
		return nil
	case '{':
		var obj struct {
			ID    json.RawMessage `json:"id"`
			OID   json.RawMessage `json:"_id"`
			Nom   string          `json:"nom"`
			Email string          `json:"email"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		id := rawID(obj.ID)
		if id == "" {
			id = rawID(obj.OID)
		}
		*r = UserRef{ID: id, Nom: obj.Nom}
		return nil
	default:
		*r = UserRef{ID: rawID(b)}
		return nil
	}
}

func (r UserRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// rawID renders a JSON string or number as an id string.
func rawID(b json.RawMessage) string {
	if len(b) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// ID is a backend identifier, sent either as a string or as a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	v := rawID(b)
	if v == "" && s != `""` {
		return fmt.Errorf("models: unsupported id %s", s)
	}
	*id = ID(v)
	return nil
}

func (id ID) String() string {
	return string(id)
}
