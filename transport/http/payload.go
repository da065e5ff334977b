package http

// Meta WhatsApp Cloud API webhook payload. Only the fields the verification
// flow needs are mapped; everything else is ignored.
//
// Example:
//
//	{
//	  "entry": [{
//	    "changes": [{
//	      "value": {
//	        "messages": [{
//	          "from": "919876543210",
//	          "text": { "body": "VERIFY-A3B7C9D2E" }
//	        }]
//	      }
//	    }]
//	  }]
//	}
type webhookPayload struct {
	Entry []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From string       `json:"from"`
	Text *webhookText `json:"text"`
}

type webhookText struct {
	Body string `json:"body"`
}

// inboundMessage is the boundary extraction: sender identity and message text.
type inboundMessage struct {
	Sender string
	Text   string
}

// firstMessage pulls the first text message out of a webhook payload.
func (p webhookPayload) firstMessage() (inboundMessage, bool) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" || msg.Text == nil {
					continue
				}
				return inboundMessage{Sender: msg.From, Text: msg.Text.Body}, true
			}
		}
	}
	return inboundMessage{}, false
}
