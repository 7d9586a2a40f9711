package mcp

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Transport selects how a tool server is reached.
type Transport string

const (
	// TransportStdio launches the server as a subprocess speaking over
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP talks to a remote server over MCP Streamable
	// HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one tool server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Unique within a [Host].
	Name string

	Transport Transport

	// Command is the executable and its space-separated arguments, for
	// [TransportStdio]. Example: "npx -y @modelcontextprotocol/server-everything".
	Command string

	// URL is the absolute endpoint, for [TransportStreamableHTTP].
	URL string

	// Env is appended to the environment of a stdio server. May be nil.
	Env map[string]string
}

// Validate reports every field the transport needs but cfg lacks.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			errs = append(errs, errors.New("command is required when transport is stdio"))
		}
	case TransportStreamableHTTP:
		if c.URL == "" {
			errs = append(errs, errors.New("url is required when transport is streamable-http"))
		} else if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("url %q must be absolute", c.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("transport %q is invalid; valid values: stdio, streamable-http", c.Transport))
	}
	return errors.Join(errs...)
}
