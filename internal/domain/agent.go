// Package domain contains core domain types for the eatly assistant service.
package domain

import (
	"strings"
	"time"
)

// AgentProfile is the restaurant profile an assistant is generated from.
type AgentProfile struct {
	DisplayName   string `json:"displayName"`
	Category      string `json:"category"`
	Highlights    string `json:"highlights,omitempty"`
	ReferenceLink string `json:"referenceLink,omitempty"`
}

// Normalized returns a copy of the profile with surrounding whitespace trimmed.
func (p AgentProfile) Normalized() AgentProfile {
	return AgentProfile{
		DisplayName:   strings.TrimSpace(p.DisplayName),
		Category:      strings.TrimSpace(p.Category),
		Highlights:    strings.TrimSpace(p.Highlights),
		ReferenceLink: strings.TrimSpace(p.ReferenceLink),
	}
}

// Agent is a provider-owned assistant this service has provisioned.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Model        string    `json:"model"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
