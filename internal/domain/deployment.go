package domain

import "time"

// Deployment status machine: draft -> building -> deployed; any step may
// fail; undeploy tears the whole project down. Undeployed is terminal for
// the record (the row is removed), a new deploy starts from scratch.
const (
	DeployStatusDraft      = "draft"
	DeployStatusBuilding   = "building"
	DeployStatusDeployed   = "deployed"
	DeployStatusFailed     = "failed"
	DeployStatusReady      = "ready"
	DeployStatusUndeployed = "undeployed"
)

// HostingProject links a chat to its hosting-platform project and carries
// the last known deployment state. At most one row per chat.
type HostingProject struct {
	ID             string     `json:"id"`
	ChatID         string     `json:"chatId"`
	ProjectID      string     `json:"projectId"`
	ProjectName    string     `json:"projectName"`
	DeployURL      string     `json:"deployUrl,omitempty"`
	CustomDomain   string     `json:"customDomain,omitempty"`
	Status         string     `json:"status"`
	LastDeployedAt *time.Time `json:"lastDeployedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// HostingProjectUpdate carries the mutable deployment fields.
type HostingProjectUpdate struct {
	ChatID         string
	DeployURL      string
	CustomDomain   string
	Status         string
	LastDeployedAt *time.Time
}

// ChatOwnership ties a generation-SDK chat to the user who created it.
type ChatOwnership struct {
	ChatID    string
	UserID    string
	CreatedAt time.Time
}

// DeployEvent is broadcast to websocket subscribers on status transitions.
type DeployEvent struct {
	ChatID    string    `json:"chatId"`
	Status    string    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
