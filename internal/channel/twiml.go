package channel

import (
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go/twiml"
)

const contentTypeXML = "application/xml"

// RenderReply builds a messaging TwiML document carrying body. An empty
// body yields an empty <Response>.
func RenderReply(body string) (string, error) {
	verbs := []twiml.Element{}
	if body != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: body})
	}
	doc, err := twiml.Messages(verbs)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}

// writeReply writes body as TwiML with the given status.
func writeReply(rw http.ResponseWriter, status int, body string) error {
	doc, err := RenderReply(body)
	if err != nil {
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return err
	}
	rw.Header().Set("Content-Type", contentTypeXML)
	rw.WriteHeader(status)
	_, err = fmt.Fprint(rw, doc)
	return err
}
