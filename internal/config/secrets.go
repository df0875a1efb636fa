package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// EVM
	redact(&out.EVM.PrivateKey)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	if cfg.Notify.WebhookURLs != nil {
		out.Notify.WebhookURLs = make([]string, len(cfg.Notify.WebhookURLs))
		for i := range cfg.Notify.WebhookURLs {
			out.Notify.WebhookURLs[i] = redacted
		}
	}

	// API keys are secrets; principals are not.
	if cfg.Auth.APIKeys != nil {
		out.Auth.APIKeys = make(map[string]string, len(cfg.Auth.APIKeys))
		for _, principal := range cfg.Auth.APIKeys {
			out.Auth.APIKeys[redacted] = principal
		}
	}

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Auth.Roles != nil {
		out.Auth.Roles = make(map[string][]string, len(cfg.Auth.Roles))
		for principal, perms := range cfg.Auth.Roles {
			cp := make([]string, len(perms))
			copy(cp, perms)
			out.Auth.Roles[principal] = cp
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
