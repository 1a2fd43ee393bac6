package hosting

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

var (
	// ErrNotConfigured means the hosting token is missing.
	ErrNotConfigured = errors.New("hosting: api token not configured")
	// ErrNotFound is the platform's 404: the project (or deployment)
	// does not exist. Callers distinguish it from transient failures.
	ErrNotFound = errors.New("hosting: not found")
)

// Project is a hosting platform project.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Framework string `json:"framework,omitempty"`
}

// Client talks to the Vercel-compatible hosting REST API.
type Client struct {
	apiURL string
	token  string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(apiURL, token string, client *http.Client, logger *slog.Logger) *Client {
	return &Client{apiURL: apiURL, token: token, http: client, logger: logger.With("component", "hosting")}
}

func (c *Client) Enabled() bool { return c.token != "" }

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
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("hosting api error: %s: %s", resp.Status, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateProject provisions a nextjs project and returns its id.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	payload := map[string]string{"name": name, "framework": "nextjs"}
	var project Project
	if err := c.do(ctx, http.MethodPost, "/v10/projects", payload, &project); err != nil {
		return nil, err
	}
	c.logger.Info("hosting project created", "project_id", project.ID, "name", project.Name)
	return &project, nil
}

// GetProject fetches a project by id or name.
func (c *Client) GetProject(ctx context.Context, idOrName string) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(idOrName), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes the whole project and every deployment in it.
func (c *Client) DeleteProject(ctx context.Context, idOrName string) error {
	return c.do(ctx, http.MethodDelete, "/v9/projects/"+url.PathEscape(idOrName), nil, nil)
}

// ListProjects pages through all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var parsed struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/v9/projects?limit=100", nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Projects, nil
}
