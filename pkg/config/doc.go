// Package config loads typed configuration from environment variables.
//
// Load parses any struct with caarlos0/env tags and caches the result per
// type, loading an optional .env file through godotenv on first use. App is
// the service configuration: logging, the HTTP listener, the session signing
// key and lifetime, optional capability and route table files, the login
// and unauthorized paths, and optional Postgres and Redis URLs.
//
//	app, err := config.LoadApp()
//	if err != nil {
//		return err
//	}
//
// ResetCache and ForceReload exist for tests that change the environment.
package config
