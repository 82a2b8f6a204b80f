package server

import (
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/pipeline"
)

// inboundAttachment is the wire shape of one attachment on an inbound chat
// message.
type inboundAttachment struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	DeclaredMime string `json:"mime"`
	Payload      string `json:"payload"`
}

// inboundTurn is the wire shape of one stored history turn.
type inboundTurn struct {
	Role        string              `json:"role"`
	Content     any                 `json:"content"`
	Attachments []inboundAttachment `json:"attachments,omitempty"`
}

// inboundChatMessage is the JSON payload a client sends over the WebSocket
// to start one pipeline turn.
type inboundChatMessage struct {
	ChatID      string              `json:"chatId"`
	Message     string              `json:"message"`
	History     []inboundTurn       `json:"history"`
	Attachments []inboundAttachment `json:"attachments"`
	Credential  string              `json:"credential"`
}

func (m inboundChatMessage) toRequest(userID string) pipeline.Request {
	return pipeline.Request{
		Message:     m.Message,
		ChatHistory: toStoredTurns(m.History),
		ChatID:      m.ChatID,
		Attachments: toAttachments(m.Attachments),
		UserID:      userID,
		Credential:  m.Credential,
	}
}

func toStoredTurns(turns []inboundTurn) []chatmodel.StoredTurn {
	out := make([]chatmodel.StoredTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, chatmodel.StoredTurn{
			Role:        t.Role,
			Content:     t.Content,
			Attachments: toAttachments(t.Attachments),
		})
	}
	return out
}

func toAttachments(in []inboundAttachment) []chatmodel.Attachment {
	out := make([]chatmodel.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, chatmodel.Attachment{
			Name:         a.Name,
			Kind:         chatmodel.AttachmentKind(a.Kind),
			DeclaredMime: a.DeclaredMime,
			Payload:      a.Payload,
		})
	}
	return out
}
