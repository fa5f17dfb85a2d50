package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/provider"
	"github.com/eatly-ai/eatly/internal/provider/providertest"
	"github.com/eatly-ai/eatly/internal/shared"
)

func TestProvisionReturnsAgentID(t *testing.T) {
	t.Parallel()

	fake := providertest.New()
	p := NewProvisioner(fake, "", nil)

	profile := domain.AgentProfile{
		DisplayName:   "Luigi's",
		Category:      "Italian",
		Highlights:    "Wood-fired pizza",
		ReferenceLink: "https://luigis.example",
	}
	before := profile

	agent, err := p.Provision(context.Background(), profile)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if agent.ID == "" {
		t.Fatal("expected non-empty agent id")
	}
	if profile != before {
		t.Fatalf("profile mutated: %+v", profile)
	}
	if got := fake.Calls(provider.OpCreateAgent); got != 1 {
		t.Fatalf("CreateAgent calls = %d, want 1", got)
	}
	if got := fake.TotalCalls(); got != 1 {
		t.Fatalf("total remote calls = %d, want 1", got)
	}

	specs := fake.Agents()
	if specs[0].Name != "Luigi's Chat Assistant" {
		t.Fatalf("assistant name = %q", specs[0].Name)
	}
	if specs[0].Model != DefaultModel {
		t.Fatalf("model = %q, want %q", specs[0].Model, DefaultModel)
	}
	for _, want := range []string{"Luigi's", "Italian", "Wood-fired pizza", "https://luigis.example"} {
		if !strings.Contains(specs[0].Instructions, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestProvisionRejectsMissingFieldsWithoutRemoteCall(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		profile domain.AgentProfile
		field   string
	}{
		{"empty name", domain.AgentProfile{Category: "Thai"}, "displayName"},
		{"blank name", domain.AgentProfile{DisplayName: "   ", Category: "Thai"}, "displayName"},
		{"empty category", domain.AgentProfile{DisplayName: "Baan"}, "category"},
		{"both empty", domain.AgentProfile{}, "displayName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := providertest.New()
			_, err := NewProvisioner(fake, "gpt-4o", nil).Provision(context.Background(), tc.profile)

			var ve *shared.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
			if fake.TotalCalls() != 0 {
				t.Fatalf("expected no remote calls, got %d", fake.TotalCalls())
			}
		})
	}
}

func TestProvisionPropagatesProviderError(t *testing.T) {
	t.Parallel()

	fake := providertest.New()
	fake.Errors = map[string]error{
		provider.OpCreateAgent: &shared.ProviderError{Op: provider.OpCreateAgent, Status: 401, Message: "Incorrect API key provided"},
	}

	_, err := NewProvisioner(fake, "", nil).Provision(context.Background(), domain.AgentProfile{DisplayName: "A", Category: "B"})
	var pe *shared.ProviderError
	if !errors.As(err, &pe) || pe.Status != 401 {
		t.Fatalf("expected ProviderError 401, got %v", err)
	}
}

func TestInstructionsRenderEmptyPlaceholders(t *testing.T) {
	t.Parallel()

	doc := Instructions(domain.AgentProfile{DisplayName: "Baan", Category: "Thai"})
	if !strings.Contains(doc, "- Menu Highlights/Specialties: \n") {
		t.Error("expected empty highlights placeholder")
	}
	if !strings.Contains(doc, "- Website: \n") {
		t.Error("expected empty website placeholder")
	}
	for _, rule := range []string{"Never make up information", "payments", "complaints", "job applications"} {
		if !strings.Contains(doc, rule) {
			t.Errorf("instructions missing rule %q", rule)
		}
	}
}

type fakeRecorder struct {
	saved []domain.Agent
	err   error
}

func (f *fakeRecorder) SaveAgent(_ context.Context, a *domain.Agent) error {
	f.saved = append(f.saved, *a)
	return f.err
}

func TestProvisionAndRecord(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	agent, err := NewProvisioner(providertest.New(), "", nil).
		ProvisionAndRecord(context.Background(), domain.AgentProfile{DisplayName: "Baan", Category: "Thai"}, rec)
	if err != nil {
		t.Fatalf("ProvisionAndRecord: %v", err)
	}
	if len(rec.saved) != 1 || rec.saved[0].ID != agent.ID || rec.saved[0].Name != "Baan Chat Assistant" {
		t.Fatalf("recorded = %+v", rec.saved)
	}
}

func TestProvisionAndRecordIgnoresStoreFailure(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{err: errors.New("disk full")}
	agent, err := NewProvisioner(providertest.New(), "", nil).
		ProvisionAndRecord(context.Background(), domain.AgentProfile{DisplayName: "Baan", Category: "Thai"}, rec)
	if err != nil || agent.ID == "" {
		t.Fatalf("store failure must not fail provisioning: %v", err)
	}
}
