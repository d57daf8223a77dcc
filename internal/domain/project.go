package domain

import (
	"fmt"
	"strings"
)

// ProjectParties records who acts as client and expert on a project.
type ProjectParties struct {
	ProjectID string `json:"project_id"`
	ClientID  string `json:"client_id"`
	ExpertID  string `json:"expert_id"`
}

func (p ProjectParties) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" || strings.TrimSpace(p.ClientID) == "" || strings.TrimSpace(p.ExpertID) == "" {
		return fmt.Errorf("%w: project id, client id and expert id are required", ErrInvalidInput)
	}
	if p.ClientID == p.ExpertID {
		return fmt.Errorf("%w: client and expert must be different parties", ErrInvalidInput)
	}
	return nil
}
