package entity

import "strings"

// AnalysisRequest is the inbound payload of POST /analyze. Pointer fields let the
// handler tell a missing field apart from an empty one.
type AnalysisRequest struct {
	ImageBase64 *string `json:"image_base64"`
	Question    *string `json:"question"`
	Mode        string  `json:"mode,omitempty"`
	MIMEType    string  `json:"mime_type,omitempty"`
}

type AnalysisResult struct {
	Summary string `json:"summary"`
}

// Analysis is a validated request ready for the formatter.
type Analysis struct {
	ClientID    string
	ImageBase64 string
	Question    string
	Mode        Mode
	MIMEType    string
}

// VisionPrompt is the provider-neutral two-message prompt: the system
// instruction, then a user turn holding the question followed by the image.
type VisionPrompt struct {
	System    string
	Question  string
	Image     ImageRef
	MaxTokens int
}

// ImageRef is an inline image. Data is the base64 payload without any data URL prefix.
type ImageRef struct {
	MIMEType string
	Data     string
}

// DataURL renders the image as data:<mime>;base64,<payload>.
func (i ImageRef) DataURL() string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(i.MIMEType) + len(i.Data))
	b.WriteString("data:")
	b.WriteString(i.MIMEType)
	b.WriteString(";base64,")
	b.WriteString(i.Data)
	return b.String()
}

// VisionReply is the first candidate extracted from the upstream envelope.
type VisionReply struct {
	Text       string
	Model      string
	Provider   string
	TokenCount int
}
