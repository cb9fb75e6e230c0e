// Package config reads the service's process settings from the environment.
//
// Values prefixed ORCH_ seed the live orchestrator configuration on first
// start; after that the live copy is changed through the API and the
// environment is not consulted again. Everything else (listen ports, storage
// backend, catalog driver, engine endpoint) is fixed for the life of the
// process.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	settings := cfg.Orchestrator.Settings()
package config
