package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/balizero/nuzantara/pkg/protocol"
)

var entityKindLabels = map[protocol.EntityKind]string{
	protocol.EntityName:              "Name",
	protocol.EntityLocation:          "Location",
	protocol.EntityBudget:            "Budget",
	protocol.EntityProfession:        "Profession",
	protocol.EntityPreferredLanguage: "Preferred language",
	protocol.EntityExpertiseLevel:    "Expertise level",
	protocol.EntityBusinessIntent:    "Business intent",
}

// BuildPreamble renders known facts and the rolling summary into a block
// prepended to the system prompt, so the model answers with session
// context without the caller restating it.
func BuildPreamble(ctx context.Context, svc SessionService, sessionID string) (string, error) {
	entities, err := svc.GetEntities(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load entities: %w", err)
	}
	summary, err := svc.GetSummary(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load summary: %w", err)
	}

	if len(entities) == 0 && summary == "" {
		return "", nil
	}

	var b strings.Builder
	if len(entities) > 0 {
		sort.Slice(entities, func(i, j int) bool { return entities[i].Kind < entities[j].Kind })
		b.WriteString("Known facts about this user:\n")
		for _, e := range entities {
			label, ok := entityKindLabels[e.Kind]
			if !ok {
				label = string(e.Kind)
			}
			fmt.Fprintf(&b, "- %s: %s\n", label, e.Value)
		}
	}
	if summary != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Summary of the earlier conversation:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return b.String(), nil
}
