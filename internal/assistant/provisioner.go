// Package assistant turns a restaurant profile into a provider-registered assistant.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/provider"
	"github.com/eatly-ai/eatly/internal/shared"
)

// DefaultModel is the model every provisioned assistant runs on unless configured otherwise.
const DefaultModel = "gpt-4o"

var instructionsTemplate = template.Must(template.New("instructions").Parse(
	`**Role:** You are the official AI chat assistant for {{.DisplayName}}, a restaurant known for its {{.Category}}. Be warm, friendly and efficient.

**Core Responsibilities:**
1. **Answer Questions:** Give accurate information about the restaurant using ONLY the details below. Typical topics are opening hours, location, menu items, specials, parking and ambiance.
2. **Menu Guidance:** Describe the dishes listed under Menu Highlights. Do not guess ingredients or preparation methods that are not listed.
3. **Bookings and Orders:** If a guest wants to book or order, point them to the website or the restaurant's phone line. Never collect booking details yourself.
4. **Engagement:** Stay polite and helpful, and mention the restaurant's name now and then.

**Restaurant Details:**
- Name: {{.DisplayName}}
- Cuisine Type: {{.Category}}
- Menu Highlights/Specialties: {{.Highlights}}
- Website: {{.ReferenceLink}}

**Rules:**
- **Accuracy:** Use ONLY the information above. When you do not know something (detailed ingredients, wait times, table availability), say so politely and suggest contacting the restaurant directly or checking the website. **Never make up information.**
- **Scope:** Do not handle payments, complaints or job applications. Direct guests to the appropriate channel instead.
- **Tone:** Keep a positive, helpful tone throughout the conversation.`))

// Instructions renders the instruction document for a profile.
// Absent optional fields render as empty placeholders.
func Instructions(profile domain.AgentProfile) string {
	var b strings.Builder
	// The template only reads string fields, so execution cannot fail.
	_ = instructionsTemplate.Execute(&b, profile)
	return b.String()
}

// Validate reports the first missing required field.
func Validate(profile domain.AgentProfile) error {
	if strings.TrimSpace(profile.DisplayName) == "" {
		return &shared.ValidationError{Field: "displayName"}
	}
	if strings.TrimSpace(profile.Category) == "" {
		return &shared.ValidationError{Field: "category"}
	}
	return nil
}

// Provisioner registers assistants with the provider.
type Provisioner struct {
	provider provider.Provider
	model    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvisioner creates a Provisioner. An empty model selects DefaultModel.
func NewProvisioner(p provider.Provider, model string, logger *slog.Logger) *Provisioner {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{provider: p, model: model, logger: logger, now: time.Now}
}

// Provision validates the profile and registers a new assistant for it.
// Exactly one remote call is made on the success path and none on validation failure.
func (p *Provisioner) Provision(ctx context.Context, profile domain.AgentProfile) (domain.Agent, error) {
	if err := Validate(profile); err != nil {
		return domain.Agent{}, err
	}
	profile = profile.Normalized()

	agent := domain.Agent{
		Name:         profile.DisplayName + " Chat Assistant",
		Category:     profile.Category,
		Model:        p.model,
		Instructions: Instructions(profile),
	}

	p.logger.Info("Creating assistant", "restaurant", profile.DisplayName, "model", p.model)

	id, err := p.provider.CreateAgent(ctx, provider.AgentSpec{
		Name:         agent.Name,
		Instructions: agent.Instructions,
		Model:        agent.Model,
	})
	if err != nil {
		p.logger.Error("Failed to create assistant", "restaurant", profile.DisplayName, "error", err)
		return domain.Agent{}, fmt.Errorf("provision assistant: %w", err)
	}

	agent.ID = id
	agent.CreatedAt = p.now()
	p.logger.Info("Assistant created", "agent_id", id)
	return agent, nil
}

// Recorder stores provisioned agents.
type Recorder interface {
	SaveAgent(ctx context.Context, agent *domain.Agent) error
}

// ProvisionAndRecord provisions an assistant and records it locally.
// The provider owns the assistant, so a recording failure is logged and not returned.
func (p *Provisioner) ProvisionAndRecord(ctx context.Context, profile domain.AgentProfile, rec Recorder) (domain.Agent, error) {
	agent, err := p.Provision(ctx, profile)
	if err != nil {
		return domain.Agent{}, err
	}
	if rec != nil {
		if err := rec.SaveAgent(ctx, &agent); err != nil {
			p.logger.Warn("Failed to record assistant", "agent_id", agent.ID, "error", err)
		}
	}
	return agent, nil
}
