package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL: "https://graph.facebook.com",
			GraphVersion: "v17.0",
		},
		Forward: ForwardConfig{
			TimeoutSeconds: 30,
		},
		Dedup: DedupConfig{
			Enabled:    true,
			TTLMinutes: 1440,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// FromEnv builds a config purely from environment variables, for file-less
// deployments. Unset variables leave the corresponding default in place.
func FromEnv(lookup func(string) (string, bool)) *Config {
	cfg := Defaults()

	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("VERIFY_TOKEN", &cfg.WhatsApp.VerifyToken)
	set("WHATSAPP_TOKEN", &cfg.WhatsApp.AccessToken)
	set("APP_SECRET", &cfg.WhatsApp.AppSecret)
	set("PHONE_NUMBER_ID", &cfg.WhatsApp.PhoneNumberID)
	set("WABA_ID", &cfg.WhatsApp.BusinessAccountID)
	set("GRAPH_BASE_URL", &cfg.WhatsApp.GraphBaseURL)
	set("GRAPH_VERSION", &cfg.WhatsApp.GraphVersion)
	set("N8N_WEBHOOK_URL", &cfg.Forward.MessagesURL)
	set("N8N_WEBHOOK_STATUS_URL", &cfg.Forward.StatusesURL)
	set("LOG_LEVEL", &cfg.General.LogLevel)
	set("DEDUP_DB_PATH", &cfg.Dedup.DBPath)

	if v, ok := lookup("PORT"); ok && v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Server.Port = port
		}
	}
	return cfg
}
