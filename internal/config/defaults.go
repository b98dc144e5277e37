package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5000,
			WebhookPath: "/inbound-webhook",
		},
		Twilio: TwilioConfig{
			Channel: "whatsapp",
		},
		Transcription: TranscriptionConfig{
			Engine:        "whisper-api",
			APIBase:       "https://api.openai.com/v1",
			Model:         "whisper-1",
			MaxConcurrent: 2,
		},
		Media: MediaConfig{
			FetchTimeoutSeconds: 60,
			ChunkSize:           8192,
		},
		Processing: ProcessingConfig{
			AsyncReply: false,
			Workers:    4,
			QueueSize:  64,
		},
		Messages: DefaultMessages(),
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "~/.transcribebot/events.db",
			RetentionDays: 30,
			PruneSchedule: "@hourly",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func DefaultMessages() MessagesConfig {
	return MessagesConfig{
		Help: "Send a WhatsApp voice note or audio file and I'll transcribe it. " +
			"Supported: audio/* (e.g. OGG/Opus voice notes).",
		NotAudio:     "Please send an audio message. Received media is not recognized as audio.",
		Processing:   "Processing your audio. I will reply with the transcription shortly.",
		Error:        "Sorry, there was an error processing your audio.",
		NoTranscript: "(no transcription)",
	}
}
