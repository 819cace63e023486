// Package session turns backend login payloads into the canonical
// session user and answers token-validity questions.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"freezy-bot/internal/models"
)

var ErrNoUser = errors.New("login payload carries no user")

// nestedKeys are the wrappers the backend has been seen to put around the
// real user object, most specific first.
var nestedKeys = []string{"utilisateur", "parent", "user"}

type userFields struct {
	Email      string `json:"email"`
	Nom        string `json:"nom"`
	Prenom     string `json:"prenom"`
	Telephone  string `json:"telephone"`
	Adresse    string `json:"adresse"`
	Entreprise string `json:"entreprise"`
	Role       string `json:"role"`
	Photo      string `json:"photo"`
}

// NormalizeUser accepts a user value as the backend returns it (flat, or
// wrapped in utilisateur/parent/user) and returns one SessionUser. Fields
// missing from the inner object are taken from the wrapper.
func NormalizeUser(raw json.RawMessage) (models.SessionUser, error) {
	layers, err := unwrap(raw)
	if err != nil {
		return models.SessionUser{}, err
	}

	var u models.SessionUser
	for _, layer := range layers {
		var ref models.UserRef
		_ = json.Unmarshal(layer, &ref)
		var f userFields
		if err := json.Unmarshal(layer, &f); err != nil {
			return models.SessionUser{}, fmt.Errorf("decode user: %w", err)
		}
		fill(&u.ID, ref.ID)
		fill(&u.Email, f.Email)
		fill(&u.Nom, f.Nom)
		fill(&u.Prenom, f.Prenom)
		fill(&u.Telephone, f.Telephone)
		fill(&u.Adresse, f.Adresse)
		fill(&u.Entreprise, f.Entreprise)
		fill(&u.Role, f.Role)
		fill(&u.Photo, f.Photo)
	}

	if u.ID == "" && u.Email == "" {
		return models.SessionUser{}, ErrNoUser
	}
	return u, nil
}

// unwrap returns the object layers from innermost to outermost.
func unwrap(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrNoUser
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("decode user: expected object, got %.20s", trimmed)
	}

	layers := []json.RawMessage{raw}
	current := raw
	for depth := 0; depth < len(nestedKeys); depth++ {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		next, ok := nestedObject(obj)
		if !ok {
			break
		}
		layers = append([]json.RawMessage{next}, layers...)
		current = next
	}
	return layers, nil
}

func nestedObject(obj map[string]json.RawMessage) (json.RawMessage, bool) {
	for _, key := range nestedKeys {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		s := strings.TrimSpace(string(inner))
		if strings.HasPrefix(s, "{") {
			return inner, true
		}
	}
	return nil, false
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}
