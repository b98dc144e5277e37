package channel

import (
	"net/http"

	"github.com/twilio/twilio-go/client"
)

// Signature headers, checked in order.
const (
	HeaderSignature       = "X-Signature"
	HeaderTwilioSignature = "X-Twilio-Signature"
)

// SignatureValidator checks the platform's request signature:
// base64(HMAC-SHA1(authToken, url + sorted key/value pairs)). The URL is
// tried with and without the scheme's default port.
type SignatureValidator struct {
	rv client.RequestValidator
}

// NewSignatureValidator creates a validator for the given auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{rv: client.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches requestURL and form. It never
// panics; an empty signature is a mismatch.
func (v *SignatureValidator) Validate(requestURL string, form map[string]string, signature string) (ok bool) {
	if signature == "" || requestURL == "" {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if form == nil {
		form = map[string]string{}
	}
	return v.rv.Validate(requestURL, form, signature)
}

// signatureFrom reads the signature header, preferring X-Signature.
func signatureFrom(h http.Header) string {
	if sig := h.Get(HeaderSignature); sig != "" {
		return sig
	}
	return h.Get(HeaderTwilioSignature)
}
