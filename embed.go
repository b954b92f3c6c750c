package agentchatui

import "embed"

// TemplateFS contains the HTML templates of the web front-end.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the script and style sheet served under /static/.
//
//go:embed static/*
var StaticFS embed.FS

// DefaultConfig is the configuration used when no configuration file exists yet. It is also written out as
// the starting point for a new configuration file.
//
//go:embed config.example.yaml
var DefaultConfig []byte
