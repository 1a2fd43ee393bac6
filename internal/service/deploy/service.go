package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArthurBarre/site-forge-clone/internal/cache"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/generation"
	"github.com/ArthurBarre/site-forge-clone/internal/hosting"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
	"github.com/ArthurBarre/site-forge-clone/internal/ws"
)

var (
	// ErrMissingVersionID rejects a deploy that names no version. The
	// text is the client-facing error message.
	ErrMissingVersionID = errors.New("Version ID is required for deployment")
	// ErrDeployInProgress means another deploy holds the chat's lock.
	ErrDeployInProgress = errors.New("deploy: deployment already in progress for this chat")
	// ErrNotDeployed means undeploy was asked for a chat with no project.
	ErrNotDeployed = errors.New("deploy: no hosting project for this chat")
)

const maxProjectNameLen = 50

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]`)
var repeatedDashes = regexp.MustCompile(`-{2,}`)

// sanitizeName normalizes a chat name into a hosting-safe slug.
func sanitizeName(name string) string {
	clean := strings.ToLower(strings.TrimSpace(name))
	clean = invalidNameChars.ReplaceAllString(clean, "-")
	clean = repeatedDashes.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-")
	if len(clean) > maxProjectNameLen {
		clean = strings.Trim(clean[:maxProjectNameLen], "-")
	}
	if clean == "" {
		clean = "site"
	}
	return clean
}

// hostingProjectName prefixes the slug with the tail of the clock so
// retried deploys never collide on the hosting platform.
func hostingProjectName(name string, now time.Time) string {
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	if len(stamp) > 6 {
		stamp = stamp[len(stamp)-6:]
	}
	full := stamp + "-" + sanitizeName(name)
	full = repeatedDashes.ReplaceAllString(full, "-")
	if len(full) > maxProjectNameLen {
		full = strings.Trim(full[:maxProjectNameLen], "-")
	}
	return full
}

// Result reports a finished deploy.
type Result struct {
	ChatID      string                `json:"chatId"`
	ProjectID   string                `json:"projectId"`
	ProjectName string                `json:"projectName"`
	URL         string                `json:"url"`
	Status      string                `json:"status"`
	Logs        []generation.LogEntry `json:"logs,omitempty"`
	Warnings    []string              `json:"warnings,omitempty"`
}

// UndeployResult reports a teardown.
type UndeployResult struct {
	ChatID   string   `json:"chatId"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
}

// Service orchestrates builds: it provisions the hosting project, runs
// the generation platform's deployment and records the outcome. A
// per-chat lock serializes concurrent deploys of the same site.
type Service struct {
	generation   *generation.Client
	hosting      *hosting.Client
	projects     repository.HostingProjectRepository
	locker       cache.Locker
	hub          *ws.Hub
	lockTTL      time.Duration
	pollAttempts int
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewService(gen *generation.Client, host *hosting.Client, projects repository.HostingProjectRepository, locker cache.Locker, hub *ws.Hub, lockTTL time.Duration, pollAttempts int, pollInterval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		generation:   gen,
		hosting:      host,
		projects:     projects,
		locker:       locker,
		hub:          hub,
		lockTTL:      lockTTL,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
		logger:       logger.With("component", "deploy"),
	}
}

func (s *Service) publish(chatID, status, url string) {
	if s.hub == nil {
		return
	}
	s.hub.PublishDeployEvent(domain.DeployEvent{
		ChatID:    chatID,
		Status:    status,
		URL:       url,
		Timestamp: time.Now().UTC(),
	})
}

// Trigger deploys the named version of the chat. The caller must say
// which version; deploying "whatever is latest" is not an operation this
// offers, so an empty versionID fails before any platform call.
func (s *Service) Trigger(ctx context.Context, chatID, versionID string) (*Result, error) {
	if versionID == "" {
		return nil, ErrMissingVersionID
	}
	release, acquired, err := s.locker.Acquire(ctx, "deploy:"+chatID, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("deploy: acquiring lock: %w", err)
	}
	if !acquired {
		return nil, ErrDeployInProgress
	}
	defer release()

	chat, err := s.generation.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("deploy: loading chat %s: %w", chatID, err)
	}

	var warnings []string
	record, project, err := s.ensureProject(ctx, chat, &warnings)
	if err != nil {
		return nil, err
	}
	s.publish(chatID, domain.DeployStatusBuilding, "")

	deployment, err := s.generation.CreateDeployment(ctx, project.ID, chatID, versionID)
	if err != nil {
		s.markFailed(ctx, chatID)
		return nil, fmt.Errorf("deploy: creating deployment: %w", err)
	}

	url := deployment.WebURL
	if url == "" {
		url, err = s.awaitURL(ctx, deployment.ID)
		if err != nil {
			s.markFailed(ctx, chatID)
			return nil, err
		}
	}

	logs, err := s.generation.FindLogs(ctx, deployment.ID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("deployment logs unavailable: %s", err))
	}

	now := time.Now().UTC()
	update := domain.HostingProjectUpdate{
		ChatID:         chatID,
		DeployURL:      url,
		Status:         domain.DeployStatusDeployed,
		LastDeployedAt: &now,
	}
	if err := s.projects.UpdateHostingProject(ctx, update); err != nil {
		warnings = append(warnings, fmt.Sprintf("deployment state not persisted: %s", err))
		s.logger.Warn("hosting project update failed", "chat_id", chatID, "error", err)
	}
	s.publish(chatID, domain.DeployStatusDeployed, url)
	s.logger.Info("deployment finished", "chat_id", chatID, "project_id", project.ID, "url", url)

	return &Result{
		ChatID:      chatID,
		ProjectID:   project.ID,
		ProjectName: record.ProjectName,
		URL:         url,
		Status:      domain.DeployStatusDeployed,
		Logs:        logs,
		Warnings:    warnings,
	}, nil
}

// ensureProject reuses the chat's hosting project or provisions one.
// Only a platform 404 counts as a stale mapping; a transient lookup
// failure must not orphan a live project behind a fresh one.
func (s *Service) ensureProject(ctx context.Context, chat *generation.Chat, warnings *[]string) (*domain.HostingProject, *hosting.Project, error) {
	record, err := s.projects.GetHostingProjectByChat(ctx, chat.ID)
	if err == nil {
		project, getErr := s.hosting.GetProject(ctx, record.ProjectID)
		if getErr == nil {
			return record, project, nil
		}
		if !errors.Is(getErr, hosting.ErrNotFound) {
			return nil, nil, fmt.Errorf("deploy: checking hosting project %s: %w", record.ProjectID, getErr)
		}
		// Stale mapping: the project is gone on the platform side.
		*warnings = append(*warnings, "hosting project vanished, provisioning a new one")
		if delErr := s.projects.DeleteHostingProjectByChat(ctx, chat.ID); delErr != nil {
			s.logger.Warn("stale mapping not removed", "chat_id", chat.ID, "error", delErr)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	name := hostingProjectName(chat.Name, time.Now())
	project, err := s.hosting.CreateProject(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("deploy: creating hosting project: %w", err)
	}
	record = &domain.HostingProject{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Status:      domain.DeployStatusBuilding,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.projects.CreateHostingProject(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("deploy: persisting project mapping: %w", err)
	}
	if err := s.generation.AssociateProject(ctx, chat.ID, project.ID); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("chat not associated with project: %s", err))
	}
	return record, project, nil
}

// awaitURL polls the deployment until the platform reports its URL.
func (s *Service) awaitURL(ctx context.Context, deploymentID string) (string, error) {
	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
		deployment, err := s.generation.GetDeployment(ctx, deploymentID)
		if err != nil {
			continue
		}
		if deployment.WebURL != "" {
			return deployment.WebURL, nil
		}
	}
	return "", fmt.Errorf("deploy: deployment %s produced no url after %d attempts", deploymentID, s.pollAttempts)
}

func (s *Service) markFailed(ctx context.Context, chatID string) {
	if err := s.projects.UpdateHostingProject(ctx, domain.HostingProjectUpdate{
		ChatID: chatID,
		Status: domain.DeployStatusFailed,
	}); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("failed status not persisted", "chat_id", chatID, "error", err)
	}
	s.publish(chatID, domain.DeployStatusFailed, "")
}

// Undeploy deletes the chat's entire hosting project, every deployment
// included, and removes the mapping. Verification of the platform-side
// delete is best effort.
func (s *Service) Undeploy(ctx context.Context, chatID string) (*UndeployResult, error) {
	record, err := s.projects.GetHostingProjectByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotDeployed
		}
		return nil, err
	}

	var warnings []string
	if err := s.hosting.DeleteProject(ctx, record.ProjectID); err != nil {
		if !errors.Is(err, hosting.ErrNotFound) {
			return nil, fmt.Errorf("deploy: deleting hosting project %s: %w", record.ProjectID, err)
		}
		warnings = append(warnings, "hosting project was already gone")
	}
	if projects, err := s.hosting.ListProjects(ctx); err == nil {
		for _, p := range projects {
			if p.ID == record.ProjectID {
				warnings = append(warnings, "hosting platform still lists the project")
			}
		}
	} else {
		warnings = append(warnings, fmt.Sprintf("deletion not verified: %s", err))
	}

	if err := s.projects.DeleteHostingProjectByChat(ctx, chatID); err != nil {
		return nil, fmt.Errorf("deploy: removing project mapping: %w", err)
	}
	s.publish(chatID, domain.DeployStatusUndeployed, "")
	s.logger.Info("project undeployed", "chat_id", chatID, "project_id", record.ProjectID)

	return &UndeployResult{ChatID: chatID, Status: domain.DeployStatusUndeployed, Warnings: warnings}, nil
}

// ChatOverview combines the generation platform's chat with the stored
// deployment state.
type ChatOverview struct {
	ChatID           string                 `json:"chatId"`
	Name             string                 `json:"name,omitempty"`
	WebURL           string                 `json:"webUrl,omitempty"`
	LatestVersionID  string                 `json:"latestVersionId,omitempty"`
	DeployURL        string                 `json:"deployUrl,omitempty"`
	DeploymentStatus string                 `json:"deploymentStatus,omitempty"`
	LastDeployedAt   *time.Time             `json:"lastDeployedAt,omitempty"`
	Deployment       *domain.HostingProject `json:"deployment"`
}

// Overview overlays the deployment record on the chat metadata. The
// generation platform being unreachable degrades to record-only output.
func (s *Service) Overview(ctx context.Context, chatID string) (*ChatOverview, error) {
	overview := &ChatOverview{ChatID: chatID}
	if chat, err := s.generation.GetChat(ctx, chatID); err == nil {
		overview.Name = chat.Name
		overview.WebURL = chat.WebURL
		if chat.LatestVersion != nil {
			overview.LatestVersionID = chat.LatestVersion.ID
		}
	} else {
		s.logger.Debug("chat metadata unavailable", "chat_id", chatID, "error", err)
	}
	record, err := s.projects.GetHostingProjectByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return overview, nil
		}
		return nil, err
	}
	overview.Deployment = record
	overview.DeployURL = record.DeployURL
	overview.DeploymentStatus = record.Status
	overview.LastDeployedAt = record.LastDeployedAt
	return overview, nil
}

// Status returns the chat's current deployment record.
func (s *Service) Status(ctx context.Context, chatID string) (*domain.HostingProject, error) {
	return s.projects.GetHostingProjectByChat(ctx, chatID)
}

// RecordByID looks a mapping up by its row id.
func (s *Service) RecordByID(ctx context.Context, id string) (*domain.HostingProject, error) {
	return s.projects.GetHostingProjectByID(ctx, id)
}

// UpdateRecord partially updates the chat's mapping row.
func (s *Service) UpdateRecord(ctx context.Context, update domain.HostingProjectUpdate) error {
	return s.projects.UpdateHostingProject(ctx, update)
}

// DeleteRecord removes a mapping row by id without touching the hosting
// platform. Undeploy is the full teardown.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	return s.projects.DeleteHostingProjectByID(ctx, id)
}
