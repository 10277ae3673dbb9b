package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
)

// TeamMember is one directory entry.
type TeamMember struct {
	Name       string   `json:"name" mapstructure:"name"`
	Role       string   `json:"role" mapstructure:"role"`
	Department string   `json:"department,omitempty" mapstructure:"department"`
	Languages  []string `json:"languages,omitempty" mapstructure:"languages"`
	Expertise  []string `json:"expertise,omitempty" mapstructure:"expertise"`
	Email      string   `json:"email,omitempty" mapstructure:"email"`
}

// TeamLookupArgs is the model-facing schema for team_lookup.
type TeamLookupArgs struct {
	Criteria string `json:"criteria" jsonschema:"required,description=Free-text criteria such as a name, role, language or area of expertise"`
}

// TeamLookupTool searches the configured team directory.
type TeamLookupTool struct {
	members []TeamMember
	timeout time.Duration
}

func NewTeamLookupTool(cfg *config.ToolConfig) (*TeamLookupTool, error) {
	var members []TeamMember
	if raw, ok := cfg.Config["members"]; ok {
		if err := decodeToolConfig(raw, &members); err != nil {
			return nil, fmt.Errorf("invalid team members config: %w", err)
		}
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("team_lookup requires a non-empty members list")
	}
	return &TeamLookupTool{
		members: members,
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

func (t *TeamLookupTool) Name() string { return "team_lookup" }

func (t *TeamLookupTool) Description() string {
	return "Find team members by name, role, spoken language or expertise."
}

func (t *TeamLookupTool) InputSchema() map[string]any { return schemaFor(&TeamLookupArgs{}) }
func (t *TeamLookupTool) Timeout() time.Duration      { return t.timeout }
func (t *TeamLookupTool) Idempotent() bool            { return true }

func (t *TeamLookupTool) Execute(ctx context.Context, rawArgs map[string]any) (string, error) {
	var args TeamLookupArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "", err
	}

	criteria := strings.ToLower(strings.TrimSpace(args.Criteria))
	if criteria == "" {
		return "", fmt.Errorf("criteria is required")
	}

	var matched []TeamMember
	for _, m := range t.members {
		if memberMatches(m, criteria) {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		return fmt.Sprintf(`{"matches":[],"note":"no team member matches %q"}`, args.Criteria), nil
	}

	out, err := json.Marshal(map[string]any{"matches": matched})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func memberMatches(m TeamMember, criteria string) bool {
	fields := []string{m.Name, m.Role, m.Department}
	fields = append(fields, m.Languages...)
	fields = append(fields, m.Expertise...)
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), criteria) {
			return true
		}
	}
	return false
}
