// Package chatmodel holds the data types shared across the message
// pipeline: attachments, provider-bound message parts, and stored turns.
package chatmodel

import "encoding/base64"

// AttachmentKind classifies an inbound or rehydrated attachment.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindText     AttachmentKind = "text"
	KindUnknown  AttachmentKind = "unknown"
)

// Attachment is an inbound or history-rehydrated binary attachment. It is
// ephemeral: it lives only for the duration of one pipeline invocation.
type Attachment struct {
	Name         string
	Kind         AttachmentKind
	DeclaredMime string
	Payload      string // base64
}

// BinarySize returns the true decoded byte length of the attachment
// payload, accounting for base64 '=' padding, without fully decoding it.
func BinarySize(b64 string) int {
	if b64 == "" {
		return 0
	}
	padding := 0
	for i := len(b64) - 1; i >= 0 && b64[i] == '='; i-- {
		padding++
	}
	return (len(b64)/4)*3 - padding
}

// DecodePayload decodes the attachment's base64 payload to raw bytes.
func (a Attachment) DecodePayload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Payload)
}

// PartKind distinguishes the tagged variants of MessagePart.
type PartKind string

const (
	PartText             PartKind = "text"
	PartInlineData       PartKind = "inlineData"
	PartFunctionResponse PartKind = "functionResponse"
)

// InlineData carries a base64-encoded binary part (e.g. an image).
type InlineData struct {
	Mime       string
	Base64Data string
}

// FunctionResponse carries a tool-call result back to the upstream.
type FunctionResponse struct {
	Name   string
	Result string
}

// MessagePart is a discrete, provider-bound element of a conversational
// turn: exactly one of Text, InlineData, or FunctionResponse is populated,
// selected by Kind.
type MessagePart struct {
	Kind             PartKind
	Text             string
	InlineData       *InlineData
	FunctionResponse *FunctionResponse
}

// TextPart builds a text MessagePart.
func TextPart(text string) MessagePart {
	return MessagePart{Kind: PartText, Text: text}
}

// InlineDataPart builds an inline-binary MessagePart.
func InlineDataPart(mime, base64Data string) MessagePart {
	return MessagePart{Kind: PartInlineData, InlineData: &InlineData{Mime: mime, Base64Data: base64Data}}
}

// FunctionResponsePart builds a tool-result MessagePart.
func FunctionResponsePart(name, result string) MessagePart {
	return MessagePart{Kind: PartFunctionResponse, FunctionResponse: &FunctionResponse{Name: name, Result: result}}
}

// Role is a turn's speaker, using the upstream-provider vocabulary for
// normalized turns ("model" rather than "assistant").
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// StoredTurn is one turn as consumed from the external history store.
// Content may arrive as a bare string or as a richer object; Content holds
// the raw decoded JSON value, which HistoryNormalizer (C3) flattens to text.
type StoredTurn struct {
	Role        string
	Content     any
	Attachments []Attachment
}

// NormalizedTurn is a StoredTurn after HistoryNormalizer (C3) processing.
type NormalizedTurn struct {
	Role  Role
	Parts []MessagePart
}

// AttachmentPolicy centralizes the size/dimension limits shared by the
// attachment processor (C2) and the history normalizer (C3), so both
// validate against the same numbers.
type AttachmentPolicy struct {
	MaxAttachmentsPerMessage int
	MaxImageBytes            int
	MaxDocBytes              int
	MaxTextBytes             int
	MaxTextChars             int
	MaxTextFileChars         int
	MaxImageDim              int
	DocExtractionDeadlineSec int
}

// DefaultAttachmentPolicy returns the default attachment size and count
// limits.
func DefaultAttachmentPolicy() AttachmentPolicy {
	return AttachmentPolicy{
		MaxAttachmentsPerMessage: 10,
		MaxImageBytes:            10 * 1024 * 1024,
		MaxDocBytes:              10 * 1024 * 1024,
		MaxTextBytes:             5 * 1024 * 1024,
		MaxTextChars:             8000,
		MaxTextFileChars:         16000,
		MaxImageDim:              4096,
		DocExtractionDeadlineSec: 30,
	}
}
