package models

// OutboundMessageRequest represents requests to send a message manually via the API.
type OutboundMessageRequest struct {
	To         string `json:"to" binding:"required"`
	Message    string `json:"message" binding:"required"`
	PreviewURL bool   `json:"preview_url"`
}

// ReplyButton is a quick-reply button attached to an outbound message.
type ReplyButton struct {
	ID    string
	Title string
}

// Notification is an outbound message to a marketplace user.
type Notification struct {
	To      string
	Body    string
	Buttons []ReplyButton
}
