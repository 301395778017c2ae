package emailalert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
)

const changeNote = "This publication has just been added to the EU Exit business guidance finder on GOV.UK."

type Client struct {
	http  *req.Client
	token string
}

func New(baseURL, token string) *Client {
	return &Client{
		http:  req.C().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		token: token,
	}
}

// SendAlert posts a notification. A 409 means the alert was already sent and
// is not an error.
func (c *Client) SendAlert(ctx context.Context, payload map[string]interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(c.token).
		SetHeader("content-type", "application/json").
		SetBody(payload).
		Post("/notifications")
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		slog.Info("Email alert API returned 409 conflict",
			"base_path", payload["base_path"],
		)
		return nil
	case resp.IsErrorState():
		return fmt.Errorf("email alert API returned %d for %v", resp.StatusCode, payload["base_path"])
	}

	slog.Info("Notification sent",
		"base_path", payload["base_path"],
	)
	return nil
}

// Payload builds the alert for a document newly tagged with metadata.
func Payload(document, metadata map[string]interface{}, now time.Time) map[string]interface{} {
	publishingApp := document["publishing_app"]
	if publishingApp == nil {
		publishingApp = "search-api"
	}
	publicUpdatedAt := document["public_timestamp"]
	if publicUpdatedAt == nil {
		publicUpdatedAt = now.UTC().Format(time.RFC3339)
	}

	return map[string]interface{}{
		"title":       document["title"],
		"description": document["description"],
		"change_note": changeNote,
		"subject":     document["title"],
		"tags":        metadata,
		"links": map[string]interface{}{
			"content_id":    document["content_id"],
			"organisations": document["organisation_content_ids"],
			"taxons":        document["taxons"],
		},
		"urgent":                        true,
		"document_type":                 document["content_store_document_type"],
		"email_document_supertype":      "other",
		"government_document_supertype": "other",
		"content_id":                    document["content_id"],
		"public_updated_at":             publicUpdatedAt,
		"publishing_app":                publishingApp,
		"base_path":                     document["link"],
		"priority":                      "high",
	}
}
