package config

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Transcription.Command = append([]string(nil), cfg.Transcription.Command...)

	if c.Twilio.AuthToken != "" {
		c.Twilio.AuthToken = maskString(c.Twilio.AuthToken)
	}
	if c.Twilio.AccountSID != "" {
		c.Twilio.AccountSID = maskString(c.Twilio.AccountSID)
	}
	if c.Transcription.APIKey != "" {
		c.Transcription.APIKey = maskString(c.Transcription.APIKey)
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
