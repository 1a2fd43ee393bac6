package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ErrNotConfigured means the generation platform key is missing.
var ErrNotConfigured = errors.New("generation: api key not configured")

// Chat is a generated site conversation; LatestVersion points at the
// newest buildable snapshot.
type Chat struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WebURL        string `json:"webUrl"`
	LatestVersion *struct {
		ID string `json:"id"`
	} `json:"latestVersion"`
}

// Deployment is one build of a chat version on the hosting platform.
type Deployment struct {
	ID         string `json:"id"`
	WebURL     string `json:"webUrl"`
	Status     string `json:"status,omitempty"`
	InspectURL string `json:"inspectorUrl,omitempty"`
}

// LogEntry is a single deployment log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
}

// Client talks to the v0-compatible site generation API.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(apiURL, apiKey string, client *http.Client, logger *slog.Logger) *Client {
	return &Client{apiURL: apiURL, apiKey: apiKey, http: client, logger: logger.With("component", "generation")}
}

func (c *Client) Enabled() bool { return c.apiKey != "" }

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("generation api error: %s: %s", resp.Status, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetChat fetches a chat with its latest version.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateDeployment starts a build of the version onto the project.
func (c *Client) CreateDeployment(ctx context.Context, projectID, chatID, versionID string) (*Deployment, error) {
	payload := map[string]string{
		"projectId": projectID,
		"chatId":    chatID,
		"versionId": versionID,
	}
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, "/deployments", payload, &deployment); err != nil {
		return nil, err
	}
	c.logger.Info("deployment created", "deployment_id", deployment.ID, "chat_id", chatID)
	return &deployment, nil
}

// GetDeployment reads deployment state; WebURL is empty until the build
// finishes.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), nil, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// FindLogs fetches the build log for a deployment.
func (c *Client) FindLogs(ctx context.Context, deploymentID string) ([]LogEntry, error) {
	var parsed struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID)+"/logs", nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Logs, nil
}

// AssociateProject links the hosting project to the chat so future
// deploys land in the same place.
func (c *Client) AssociateProject(ctx context.Context, chatID, projectID string) error {
	payload := map[string]string{"projectId": projectID}
	return c.do(ctx, http.MethodPatch, "/chats/"+url.PathEscape(chatID), payload, nil)
}
