package main

import "time"

// Flag structs decouple cobra from logic for testing.

type ServeFlags struct {
	ConfigPath string
}

// APIFlags is the shared remote daemon connection surface.
type APIFlags struct {
	APIUrl     string
	Token      string
	APITimeout time.Duration
	Insecure   bool
}

type ExecFlags struct {
	WorkDir string
	Env     []string
	Timeout time.Duration
}
