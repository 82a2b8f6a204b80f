// Package history converts stored conversation turns into provider-bound
// message parts, re-validating any embedded attachments against the same
// policy the attachment processor enforces on ingestion.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/logger"
)

const integrityMarker = "[object Object]"

// Normalizer implements HistoryNormalizer (C3).
type Normalizer struct {
	policy chatmodel.AttachmentPolicy
	log    *logger.Logger
}

// New constructs a Normalizer sharing policy with the attachment processor.
func New(policy chatmodel.AttachmentPolicy, log *logger.Logger) *Normalizer {
	return &Normalizer{policy: policy, log: log.WithComponent("history")}
}

// Normalize converts stored turns into NormalizedTurns, optionally prefixed
// by a fixed system preamble supplied by an external collaborator (e.g. a
// persona/system prompt manager outside the core).
func (n *Normalizer) Normalize(stored []chatmodel.StoredTurn, systemPreamble []string) []chatmodel.NormalizedTurn {
	out := make([]chatmodel.NormalizedTurn, 0, len(systemPreamble)+len(stored))

	for _, text := range systemPreamble {
		out = append(out, chatmodel.NormalizedTurn{
			Role:  chatmodel.RoleModel,
			Parts: []chatmodel.MessagePart{chatmodel.TextPart(text)},
		})
	}

	for _, turn := range stored {
		out = append(out, n.normalizeTurn(turn))
	}

	return out
}

func (n *Normalizer) normalizeTurn(turn chatmodel.StoredTurn) chatmodel.NormalizedTurn {
	clean := coerceContent(turn.Content)
	if strings.Contains(clean, integrityMarker) {
		n.log.Warn("stored turn content coerced to integrity marker, preferring text extraction", "role", turn.Role)
		if alt, ok := extractTextField(turn.Content); ok {
			clean = alt
		}
	}

	parts := []chatmodel.MessagePart{chatmodel.TextPart(clean)}

	for _, att := range turn.Attachments {
		if att.Kind != chatmodel.KindImage {
			continue
		}
		if !attachment.ValidateRehydratedImage(att, n.policy) {
			n.log.Info("dropped rehydrated attachment failing revalidation", "name", att.Name)
			continue
		}
		parts = append(parts, chatmodel.InlineDataPart(att.DeclaredMime, att.Payload))
	}

	role := chatmodel.RoleModel
	if turn.Role == "user" {
		role = chatmodel.RoleUser
	}

	return chatmodel.NormalizedTurn{Role: role, Parts: parts}
}

// coerceContent flattens a stored turn's content to plain text: the string
// as-is, else a .text field, else the first non-empty string-valued field,
// else a JSON stringification.
func coerceContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	}

	if text, ok := extractTextField(content); ok {
		return text
	}

	if obj, ok := content.(map[string]any); ok {
		for _, val := range obj {
			if s, ok := val.(string); ok && s != "" {
				return s
			}
		}
	}

	if raw, err := json.Marshal(content); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", content)
}

func extractTextField(content any) (string, bool) {
	obj, ok := content.(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := obj["text"].(string)
	return text, ok
}
