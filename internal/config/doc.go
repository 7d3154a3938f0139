// Package config provides configuration management for cellvert.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use, with
// the in-memory event bus and the jupyter-fs HTTP backend on localhost.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
