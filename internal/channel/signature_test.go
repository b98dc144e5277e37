package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sign computes the platform's signature for url and form.
func sign(token, url string, form map[string]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + form[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

var sampleForm = map[string]string{
	"From":              "whatsapp:+15550001111",
	"NumMedia":          "1",
	"MediaUrl0":         "https://api.example.com/media/ME1",
	"MediaContentType0": "audio/ogg",
}

func TestSignatureValidator_Valid(t *testing.T) {
	const url = "https://bot.example.com/inbound-webhook"
	v := NewSignatureValidator("secret-token")
	assert.True(t, v.Validate(url, sampleForm, sign("secret-token", url, sampleForm)))
}

func TestSignatureValidator_Mismatch(t *testing.T) {
	const url = "https://bot.example.com/inbound-webhook"
	v := NewSignatureValidator("secret-token")
	good := sign("secret-token", url, sampleForm)

	tests := map[string]struct {
		url  string
		form map[string]string
		sig  string
	}{
		"empty signature": {url, sampleForm, ""},
		"wrong token":     {url, sampleForm, sign("other-token", url, sampleForm)},
		"other url":       {"https://bot.example.com/other", sampleForm, good},
		"tampered form":   {url, map[string]string{"From": "whatsapp:+1999", "NumMedia": "0"}, good},
		"garbage":         {url, sampleForm, "not-base64!!"},
		"empty url":       {"", sampleForm, good},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.False(t, v.Validate(tc.url, tc.form, tc.sig))
		})
	}
}

func TestSignatureValidator_DefaultPortVariants(t *testing.T) {
	v := NewSignatureValidator("secret-token")

	withPort := sign("secret-token", "https://bot.example.com:443/inbound-webhook", sampleForm)
	assert.True(t, v.Validate("https://bot.example.com/inbound-webhook", sampleForm, withPort))

	withoutPort := sign("secret-token", "https://bot.example.com/inbound-webhook", sampleForm)
	assert.True(t, v.Validate("https://bot.example.com:443/inbound-webhook", sampleForm, withoutPort))
}

func TestSignatureValidator_NilForm(t *testing.T) {
	const url = "https://bot.example.com/inbound-webhook"
	v := NewSignatureValidator("secret-token")
	assert.True(t, v.Validate(url, nil, sign("secret-token", url, nil)))
}

func TestSignatureFrom(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, signatureFrom(h))

	h.Set(HeaderTwilioSignature, "native")
	assert.Equal(t, "native", signatureFrom(h))

	h.Set(HeaderSignature, "preferred")
	assert.Equal(t, "preferred", signatureFrom(h))
}
