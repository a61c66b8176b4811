package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types accepted in a message content list.
const (
	PartText       = "text"
	PartImageURL   = "image_url"
	PartInputAudio = "input_audio"
	PartFile       = "file"
)

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}

type File struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
	File       *File       `json:"file,omitempty"`
}

// Content is either plain text or an ordered list of parts.
type Content struct {
	Text  string
	Parts []ContentPart

	multi bool
	null  bool
}

func TextContent(s string) Content {
	return Content{Text: s}
}

func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts, multi: true}
}

// IsParts reports whether the content is a part list.
func (c Content) IsParts() bool { return c.multi }

// IsNull reports whether the content was an explicit JSON null.
func (c Content) IsNull() bool { return c.null }

// FirstText returns the plain text, or the first text part of a part list.
func (c Content) FirstText() (string, bool) {
	if !c.multi {
		return c.Text, !c.null
	}
	for _, p := range c.Parts {
		if p.Type == PartText {
			return p.Text, true
		}
	}
	return "", false
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case c.null:
		return []byte("null"), nil
	case c.multi:
		if c.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Parts)
	default:
		return json.Marshal(c.Text)
	}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = Content{null: true}
		return nil
	case len(data) > 0 && data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("content parts: %w", err)
		}
		*c = PartsContent(parts...)
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("content: %w", err)
		}
		*c = TextContent(s)
		return nil
	}
}

// Message is one chat turn. Fields other than role and content (name,
// tool_calls, tool_call_id, ...) are carried through untouched in Extra.
type Message struct {
	Role    string
	Content Content
	Extra   map[string]json.RawMessage

	hasContent bool
}

func NewMessage(role string, content Content) Message {
	return Message{Role: role, Content: content, hasContent: true}
}

// HasContent reports whether the message carried a content field.
func (m Message) HasContent() bool { return m.hasContent }

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["role"] = m.Role
	if m.hasContent {
		out["content"] = m.Content
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{}
	if v, ok := raw["role"]; ok {
		if err := json.Unmarshal(v, &m.Role); err != nil {
			return fmt.Errorf("message role: %w", err)
		}
		delete(raw, "role")
	}
	if v, ok := raw["content"]; ok {
		if err := json.Unmarshal(v, &m.Content); err != nil {
			return err
		}
		m.hasContent = true
		delete(raw, "content")
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Content.Parts != nil {
		out.Content.Parts = make([]ContentPart, len(m.Content.Parts))
		for i, p := range m.Content.Parts {
			out.Content.Parts[i] = p.clone()
		}
	}
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func (p ContentPart) clone() ContentPart {
	out := p
	if p.ImageURL != nil {
		v := *p.ImageURL
		out.ImageURL = &v
	}
	if p.InputAudio != nil {
		v := *p.InputAudio
		out.InputAudio = &v
	}
	if p.File != nil {
		v := *p.File
		out.File = &v
	}
	return out
}

// ChatRequest is an OpenAI-style chat completion request. Generation
// parameters are kept in Params as decoded JSON values so that unknown
// parameters survive the trip to the provider.
type ChatRequest struct {
	Model    string
	Messages []Message
	Stream   bool
	Params   map[string]any
}

func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	return nil
}

// Set assigns a generation parameter.
func (r *ChatRequest) Set(key string, value any) {
	if r.Params == nil {
		r.Params = make(map[string]any)
	}
	r.Params[key] = value
}

// Get returns a generation parameter.
func (r *ChatRequest) Get(key string) (any, bool) {
	v, ok := r.Params[key]
	return v, ok
}

// Delete removes a generation parameter.
func (r *ChatRequest) Delete(key string) {
	delete(r.Params, key)
}

// Clone returns a deep copy; the copy can be mutated without affecting r.
func (r *ChatRequest) Clone() *ChatRequest {
	out := &ChatRequest{
		Model:  r.Model,
		Stream: r.Stream,
	}
	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		for i, m := range r.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	if r.Params != nil {
		out.Params = CloneParams(r.Params)
	}
	return out
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Params)+3)
	for k, v := range r.Params {
		out[k] = v
	}
	out["model"] = r.Model
	msgs := r.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	out["messages"] = msgs
	out["stream"] = r.Stream
	return json.Marshal(out)
}

func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ChatRequest{}
	if v, ok := raw["model"]; ok {
		if err := json.Unmarshal(v, &r.Model); err != nil {
			return fmt.Errorf("model: %w", err)
		}
		delete(raw, "model")
	}
	if v, ok := raw["messages"]; ok {
		if err := json.Unmarshal(v, &r.Messages); err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		delete(raw, "messages")
	}
	if v, ok := raw["stream"]; ok {
		if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			if err := json.Unmarshal(v, &r.Stream); err != nil {
				return fmt.Errorf("stream: %w", err)
			}
		}
		delete(raw, "stream")
	}

	if len(raw) > 0 {
		r.Params = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			r.Params[k] = val
		}
	}
	return nil
}

// DecodeChatRequest reads a ChatRequest from r.
func DecodeChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

type ResponseMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Metadata is attached by the gateway to every buffered response.
type Metadata struct {
	Duration int64  `json:"duration"`
	Pricing  string `json:"pricing,omitempty"`
}

type ChatResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object,omitempty"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Choices  []ChatChoice `json:"choices"`
	Usage    *Usage       `json:"usage,omitempty"`
	Metadata *Metadata    `json:"metadata,omitempty"`
}

// StreamChunk is one decoded SSE event from a provider. It is relayed as-is
// so provider-specific fields (tool call deltas, logprobs) are preserved.
type StreamChunk map[string]any
