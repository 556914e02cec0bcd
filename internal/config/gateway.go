package config

// GatewaySettings configures the HTTP/websocket adapter. The gateway is a
// thin surface over the core packages; it carries no business rules.
type GatewaySettings struct {
	ListenAddr     string   `yaml:"listen_addr" json:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LoggingSettings configures categorized file logging. Mirrored by the
// logging package, which watches the settings file for changes.
type LoggingSettings struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Level      string          `yaml:"level" json:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories" json:"categories"`
	JSONFormat bool            `yaml:"json_format" json:"json_format"`
}
