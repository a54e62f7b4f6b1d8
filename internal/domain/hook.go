package domain

import "time"

// Hook is a persisted deploy hook together with the credentials used to watch it.
type Hook struct {
	ID          string
	Name        string
	URL         string
	ProjectName string
	TeamID      string
	TeamName    string
	// TokenCiphertext holds the sealed Vercel token; Token is only populated in memory.
	TokenCiphertext []byte
	Token           string
	CreatedAt       time.Time
}

// Target converts the hook into a tracking target.
func (h Hook) Target() Target {
	return Target{
		Name:        h.Name,
		TriggerURL:  h.URL,
		ProjectName: h.ProjectName,
		Token:       h.Token,
		TeamID:      h.TeamID,
		TeamName:    h.TeamName,
	}
}
