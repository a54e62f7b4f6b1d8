package hooks

import (
	"time"

	"github.com/splax/deploywatch/internal/domain"
)

// DeploymentMessage is the JSON shape of a deployment record.
type DeploymentMessage struct {
	UID       string     `json:"uid"`
	Name      string     `json:"name"`
	URL       string     `json:"url,omitempty"`
	State     string     `json:"state"`
	Creator   string     `json:"creator,omitempty"`
	Target    string     `json:"target,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadyAt   *time.Time `json:"ready_at,omitempty"`
}

// StateMessage is the JSON shape of a tracker state.
type StateMessage struct {
	HookID             string             `json:"hook_id"`
	Status             string             `json:"status"`
	Label              string             `json:"label"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	IsPolling          bool               `json:"is_polling"`
	IsTriggering       bool               `json:"is_triggering"`
	IsResolvingProject bool               `json:"is_resolving_project"`
	IsRemoving         bool               `json:"is_removing"`
	ProjectID          string             `json:"project_id,omitempty"`
	Deployment         *DeploymentMessage `json:"deployment,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewDeploymentMessage renders a record.
func NewDeploymentMessage(rec domain.Record) DeploymentMessage {
	return DeploymentMessage{
		UID:       rec.UID,
		Name:      rec.Name,
		URL:       rec.URL,
		State:     string(rec.State),
		Creator:   rec.Creator,
		Target:    rec.Target,
		CreatedAt: rec.CreatedAt,
		ReadyAt:   rec.ReadyAt,
	}
}

// NewStateMessage renders the state of hookID.
func NewStateMessage(hookID string, st domain.State) StateMessage {
	msg := StateMessage{
		HookID:             hookID,
		Status:             string(st.Status),
		Label:              st.Label(),
		ErrorMessage:       st.ErrorMessage,
		IsPolling:          st.IsPolling,
		IsTriggering:       st.IsTriggering,
		IsResolvingProject: st.IsResolvingProject,
		IsRemoving:         st.IsRemoving,
		ProjectID:          st.ProjectID,
		UpdatedAt:          st.UpdatedAt,
	}
	if st.LastRecord != nil {
		dep := NewDeploymentMessage(*st.LastRecord)
		msg.Deployment = &dep
	}
	return msg
}
