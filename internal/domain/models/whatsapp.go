package models

// WebhookPayload is the body Meta posts to the webhook. Only the fields the
// offer flow reads are decoded.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries one batch of messages and delivery receipts for a
// business phone number.
type WebhookValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []WebhookContact `json:"contacts"`
	Messages []InboundMessage `json:"messages"`
	Statuses []MessageStatus  `json:"statuses"`
	Errors   []WebhookError   `json:"errors"`
}

// ForNumber reports whether the batch was sent to phoneNumberID. When no
// number is configured every batch matches; otherwise the batch must name it.
func (v WebhookValue) ForNumber(phoneNumberID string) bool {
	return phoneNumberID == "" || v.Metadata.PhoneNumberID == phoneNumberID
}

// SenderName returns the WhatsApp display name of waID, if Meta sent one.
func (v WebhookValue) SenderName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a provider reply: typed text, a pressed reply button or
// a template quick reply.
type InboundMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Type        string              `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Button      *TemplateButton     `json:"button,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type InteractiveContent struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyChoice `json:"button_reply,omitempty"`
	ListReply   *ReplyChoice `json:"list_reply,omitempty"`
}

// ReplyChoice is the button or list row a user picked. ID carries the
// command, e.g. "accept:<request id>".
type ReplyChoice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type TemplateButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// MessageStatus is a delivery receipt for an outbound message.
type MessageStatus struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	RecipientID string         `json:"recipient_id"`
	Errors      []WebhookError `json:"errors"`
}

type WebhookError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}
