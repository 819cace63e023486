package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"freezy-bot/internal/models"
	"freezy-bot/internal/session"
)

// LoginResult is the normalized outcome of login or registration. Token
// is empty when the backend registers without opening a session.
type LoginResult struct {
	Token string
	User  models.SessionUser
}

type authResponse struct {
	Token       string          `json:"token"`
	AccessToken string          `json:"accessToken"`
	User        json.RawMessage `json:"user"`
	Utilisateur json.RawMessage `json:"utilisateur"`
	Message     string          `json:"message"`
}

func (r authResponse) result() (*LoginResult, error) {
	token := r.Token
	if token == "" {
		token = r.AccessToken
	}
	raw := r.User
	if len(raw) == 0 {
		raw = r.Utilisateur
	}
	user, err := session.NormalizeUser(raw)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: user}, nil
}

func (c *Client) Login(ctx context.Context, creds models.Credentials) (*LoginResult, error) {
	var resp authResponse
	if err := c.call(ctx, "login", http.MethodPost, "/auth/login", "", false, creds, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" && resp.AccessToken == "" {
		return nil, &Error{Op: "login", StatusCode: http.StatusOK, Message: "Réponse de connexion sans jeton."}
	}
	res, err := resp.result()
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return res, nil
}

func (c *Client) Register(ctx context.Context, reg models.Registration) (*LoginResult, error) {
	var resp authResponse
	if err := c.call(ctx, "register", http.MethodPost, "/auth/register", "", false, reg, &resp); err != nil {
		return nil, err
	}
	res, err := resp.result()
	if err != nil {
		// Some deployments only acknowledge the sign-up.
		if errors.Is(err, session.ErrNoUser) {
			c.logger.Infow("Registration acknowledged without user", "email", reg.Email)
		} else {
			c.logger.Warnw("Unreadable user in registration answer", "email", reg.Email, "error", err)
		}
		return &LoginResult{Token: resp.Token, User: models.SessionUser{Email: reg.Email, Nom: reg.Nom, Prenom: reg.Prenom}}, nil
	}
	return res, nil
}

// RequestPasswordReset asks the backend to email a reset code.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.call(ctx, "forgot_password", http.MethodPost, "/auth/forgot-password", "", false, body, nil)
}

func (c *Client) VerifyResetCode(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	return c.call(ctx, "verify_reset_code", http.MethodPost, "/auth/verify-reset-code", "", false, body, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	body := map[string]string{"email": email, "code": code, "newPassword": newPassword}
	return c.call(ctx, "reset_password", http.MethodPost, "/auth/reset-password", "", false, body, nil)
}

func (c *Client) GetProfile(ctx context.Context, token, userID string) (models.SessionUser, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "get_profile", http.MethodGet, "/users/"+url.PathEscape(userID), token, true, nil, &raw); err != nil {
		return models.SessionUser{}, err
	}
	u, err := session.NormalizeUser(raw)
	if err != nil {
		return models.SessionUser{}, fmt.Errorf("get_profile: %w", err)
	}
	return u, nil
}

func (c *Client) UpdateProfile(ctx context.Context, token, userID string, upd models.ProfileUpdate) (models.SessionUser, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "update_profile", http.MethodPut, "/users/"+url.PathEscape(userID), token, true, upd, &raw); err != nil {
		return models.SessionUser{}, err
	}
	u, err := session.NormalizeUser(raw)
	if err != nil {
		return models.SessionUser{}, fmt.Errorf("update_profile: %w", err)
	}
	return u, nil
}
