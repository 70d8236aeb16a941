package whatsapp

// Cloud API webhook notification payload. Every level may be absent; an
// absent level means "no actionable message", never an error.

type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value *Value `json:"value,omitempty"`
	Field string `json:"field"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []Message `json:"messages"`
}

type Message struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

// NotificationResult carries the outcome of a notification parse using the
// Cloud API convention: 200 with body and sender when a text message was
// found, 403 with an "unsupported method" body otherwise.
type NotificationResult struct {
	StatusCode      int    `json:"statusCode"`
	Body            string `json:"body"`
	Sender          string `json:"from,omitempty"`
	IsBase64Encoded bool   `json:"isBase64Encoded"`
}

// Actionable reports whether the result holds a relayable text message.
func (r NotificationResult) Actionable() bool {
	return r.StatusCode == 200 && r.Body != "" && r.Sender != ""
}

// ParseNotification walks entries, then changes, then messages, in order, and
// returns the first message of type "text" it finds. The scan short-circuits
// on the first match.
func ParseNotification(n Notification) NotificationResult {
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			if change.Value == nil {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				return NotificationResult{
					StatusCode:      200,
					Body:            msg.Text.Body,
					Sender:          msg.From,
					IsBase64Encoded: false,
				}
			}
		}
	}

	return NotificationResult{
		StatusCode:      403,
		Body:            "unsupported method",
		IsBase64Encoded: false,
	}
}
