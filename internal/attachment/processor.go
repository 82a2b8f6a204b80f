// Package attachment validates and normalizes binary attachments carried on
// an inbound chat message: size limits, magic-byte/MIME cross-checks, image
// dimension bounds, and bounded document/text extraction.
package attachment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/logger"
)

// DocumentExtractor is the injected collaborator that turns a document's
// raw bytes into extracted text (PDF/DOCX/DOC parsing lives outside the
// core; only this contract is specified).
type DocumentExtractor interface {
	Extract(ctx context.Context, name string, data []byte, mime string) (string, error)
}

// documentMimes classifies which declared MIME types are routed through
// the DocumentExtractor rather than treated as images or plain text.
var documentMimes = map[string]bool{
	"application/pdf": true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// Result is the outcome of Process: the provider-bound parts plus the
// accumulated message text (original text plus any rejection/extraction
// notes, in encounter order).
type Result struct {
	Parts        []chatmodel.MessagePart
	EnhancedText string
}

// Processor implements AttachmentProcessor (C2).
type Processor struct {
	policy    chatmodel.AttachmentPolicy
	extractor DocumentExtractor
	log       *logger.Logger
}

// New constructs a Processor. extractor may be nil, in which case every
// document attachment is rejected with an extraction-unavailable note.
func New(policy chatmodel.AttachmentPolicy, extractor DocumentExtractor, log *logger.Logger) *Processor {
	return &Processor{
		policy:    policy,
		extractor: extractor,
		log:       log.WithComponent("attachment"),
	}
}

// Process validates and converts attachments into provider-bound parts.
// Per-attachment failures never abort the call: a failing attachment
// contributes only a note appended to EnhancedText.
func (p *Processor) Process(ctx context.Context, attachments []chatmodel.Attachment, messageText string) Result {
	var parts []chatmodel.MessagePart
	enhanced := strings.Builder{}
	enhanced.WriteString(messageText)

	accepted := attachments
	if len(attachments) > p.policy.MaxAttachmentsPerMessage {
		accepted = attachments[:p.policy.MaxAttachmentsPerMessage]
		dropped := len(attachments) - p.policy.MaxAttachmentsPerMessage
		enhanced.WriteString(fmt.Sprintf("\n\n[%d attachment(s) dropped: exceeds limit of %d per message]", dropped, p.policy.MaxAttachmentsPerMessage))
	}

	for _, att := range accepted {
		p.processOne(ctx, att, &parts, &enhanced)
	}

	return Result{Parts: append(parts, chatmodel.TextPart(enhanced.String())), EnhancedText: enhanced.String()}
}

func (p *Processor) processOne(ctx context.Context, att chatmodel.Attachment, parts *[]chatmodel.MessagePart, enhanced *strings.Builder) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("attachment processing panicked", "name", att.Name, "recovered", r)
			enhanced.WriteString(fmt.Sprintf("\n\n[Error processing attachment %s]", att.Name))
		}
	}()

	size := chatmodel.BinarySize(att.Payload)

	switch att.Kind {
	case chatmodel.KindImage:
		p.processImage(att, size, parts, enhanced)
	case chatmodel.KindDocument:
		p.processDocument(ctx, att, size, enhanced)
	case chatmodel.KindText:
		p.processText(att, size, enhanced)
	default:
		enhanced.WriteString(fmt.Sprintf("\n\n[Unsupported attachment type: %s]", att.Name))
	}
}

func (p *Processor) processImage(att chatmodel.Attachment, size int, parts *[]chatmodel.MessagePart, enhanced *strings.Builder) {
	if size > p.policy.MaxImageBytes {
		enhanced.WriteString(fmt.Sprintf("\n\n[Image %s too large: %d bytes (max: %d)]", att.Name, size, p.policy.MaxImageBytes))
		return
	}

	data, err := att.DecodePayload()
	if err != nil {
		enhanced.WriteString(fmt.Sprintf("\n\n[Image %s could not be decoded]", att.Name))
		return
	}

	if !checkMagicBytes(att.DeclaredMime, data) {
		enhanced.WriteString(fmt.Sprintf("\n\n[Invalid file format: %s does not match declared type %s]", att.Name, att.DeclaredMime))
		return
	}

	width, height, err := imageDimensions(att.DeclaredMime, data)
	if err != nil {
		// Fail closed: an unparseable SOF (or malformed header) is rejected.
		enhanced.WriteString(fmt.Sprintf("\n\n[Image dimensions too large: 0x0 (max: %dx%d)]", p.policy.MaxImageDim, p.policy.MaxImageDim))
		return
	}

	if att.DeclaredMime == "image/png" || att.DeclaredMime == "image/jpeg" {
		if width == 0 || height == 0 || width > p.policy.MaxImageDim || height > p.policy.MaxImageDim {
			enhanced.WriteString(fmt.Sprintf("\n\n[Image dimensions too large: %dx%d (max: %dx%d)]", width, height, p.policy.MaxImageDim, p.policy.MaxImageDim))
			return
		}
	}

	*parts = append(*parts, chatmodel.InlineDataPart(att.DeclaredMime, att.Payload))
}

func (p *Processor) processDocument(ctx context.Context, att chatmodel.Attachment, size int, enhanced *strings.Builder) {
	if size > p.policy.MaxDocBytes {
		enhanced.WriteString(fmt.Sprintf("\n\n**%s**\n[File too large: %d bytes (max: %d)]", att.Name, size, p.policy.MaxDocBytes))
		return
	}

	data, err := att.DecodePayload()
	if err != nil {
		enhanced.WriteString(fmt.Sprintf("\n\n**%s**\n[Could not decode file]", att.Name))
		return
	}

	if att.DeclaredMime == "application/pdf" && !checkMagicBytes(att.DeclaredMime, data) {
		enhanced.WriteString(fmt.Sprintf("\n\n**PDF Document: %s**\n[Invalid file format - file signature does not match PDF format]", att.Name))
		return
	}
	if att.DeclaredMime != "application/pdf" {
		// DOC/DOCX aren't in the literal magic-byte table; cross-check the
		// declared MIME against content-sniffed detection instead.
		detected := mimetype.Detect(data)
		if !detected.Is(att.DeclaredMime) && !mimeFamilyMatches(detected, att.DeclaredMime) {
			enhanced.WriteString(fmt.Sprintf("\n\n**%s**\n[Invalid file format - content does not match declared type %s]", att.Name, att.DeclaredMime))
			return
		}
	}

	if p.extractor == nil {
		enhanced.WriteString(fmt.Sprintf("\n\n**%s**\n[Document extraction unavailable]", att.Name))
		return
	}

	deadline := time.Duration(p.policy.DocExtractionDeadlineSec) * time.Second
	extractCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	text, err := p.extractor.Extract(extractCtx, att.Name, data, att.DeclaredMime)
	if err != nil {
		p.log.Warn("document extraction failed", "name", att.Name, "error", err)
		enhanced.WriteString(fmt.Sprintf("\n\n**%s**\n[Document extraction failed or timed out]", att.Name))
		return
	}

	label := "Document"
	if att.DeclaredMime == "application/pdf" {
		label = "PDF Document"
	}
	enhanced.WriteString(fmt.Sprintf("\n\n**%s: %s**\n%s", label, att.Name, truncate(text, p.policy.MaxTextChars)))
}

func (p *Processor) processText(att chatmodel.Attachment, size int, enhanced *strings.Builder) {
	if size > p.policy.MaxTextBytes {
		enhanced.WriteString(fmt.Sprintf("\n\n**File: %s**\n[File too large: %d bytes (max: %d)]", att.Name, size, p.policy.MaxTextBytes))
		return
	}

	data, err := att.DecodePayload()
	if err != nil || !utf8.Valid(data) {
		enhanced.WriteString(fmt.Sprintf("\n\n**File: %s**\n[File is not valid UTF-8 text]", att.Name))
		return
	}

	enhanced.WriteString(fmt.Sprintf("\n\n**File: %s**\n%s", att.Name, truncate(string(data), p.policy.MaxTextFileChars)))
}

// ValidateRehydratedImage re-runs the size and magic-byte checks (but not
// the dimension check, which is trusted to have already passed at original
// ingestion time) against an image attachment replayed from history. Used
// by the history normalizer (C3) so a compromised history store can't
// smuggle an oversized or mistyped payload back to the upstream.
func ValidateRehydratedImage(att chatmodel.Attachment, policy chatmodel.AttachmentPolicy) bool {
	size := chatmodel.BinarySize(att.Payload)
	if size > policy.MaxImageBytes {
		return false
	}
	data, err := att.DecodePayload()
	if err != nil {
		return false
	}
	return checkMagicBytes(att.DeclaredMime, data)
}

// truncate bounds text to maxChars runes, appending a marker if cut.
func truncate(text string, maxChars int) string {
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + "\n[... truncated]"
}

// mimeFamilyMatches accepts the common archive-based Office formats that
// mimetype.Detect reports at the zip/OLE family level rather than the exact
// application/vnd... string.
func mimeFamilyMatches(detected *mimetype.MIME, declared string) bool {
	if declared == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		return detected.Is("application/zip") || detected.Is("application/x-zip")
	}
	if declared == "application/msword" {
		return detected.Is("application/x-ole-storage") || detected.Is("application/CDFV2")
	}
	return false
}
