package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"freezy-bot/internal/models"
)

func (c *Client) CreateComment(ctx context.Context, token string, req models.CommentRequest) error {
	return c.call(ctx, "create_comment", http.MethodPost, "/commentaires", token, true, req, nil)
}

func (c *Client) ListComments(ctx context.Context, token string) ([]models.Comment, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "list_comments", http.MethodGet, "/commentaires", token, true, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.Comment](c, "list_comments", raw), nil
}

func (c *Client) DeleteComment(ctx context.Context, token, commentID string) error {
	return c.call(ctx, "delete_comment", http.MethodDelete, "/commentaires/"+url.PathEscape(commentID), token, true, nil, nil)
}
