package config

// mask replaces non-empty secrets when rendering the effective
// configuration. The value is constant so diffs of printed configs stay
// stable across runs.
const mask = "***"

// Redacted returns a copy of the configuration safe for printing or
// logging: every credential-bearing field is masked, and shared slices
// and maps are copied so the caller cannot reach back into the original.
func (c Config) Redacted() Config {
	out := c

	out.Sources = make(map[string]SourceConfig, len(c.Sources))
	for id, src := range c.Sources {
		maskString(&src.APIKey)
		maskString(&src.APISecret)
		out.Sources[id] = src
	}

	maskString(&out.Postgres.DSN)
	maskString(&out.Postgres.Password)
	maskString(&out.Redis.Password)
	maskString(&out.S3.AccessKey)
	maskString(&out.S3.SecretKey)
	maskString(&out.Server.APIKey)
	maskString(&out.Notify.TelegramToken)
	maskString(&out.Notify.DiscordWebhookURL)
	maskString(&out.Credentials.KeyPassword)

	if c.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), c.Notify.Events...)
	}
	if c.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}

	return out
}

// maskString replaces a non-empty value in place.
func maskString(s *string) {
	if *s != "" {
		*s = mask
	}
}
