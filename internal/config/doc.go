// Package config provides configuration parsing for the pulse command.
//
// The configuration is stored in pulse.toml or pulse.json in the working
// directory. Both are optional; every field has a default and most can be
// overridden from the environment (a .env file next to the config is
// loaded first).
//
// # Configuration File Structure
//
//	[storage]
//	backend = "file"         # memory, file, s3 or hub
//	dir = ".pulse"
//	codec = "json"
//	poll_interval = "2s"
//
//	[hub]
//	addr = ":7070"
//
//	[log]
//	level = "info"
//
// # Environment
//
//	PULSE_STORAGE    storage.backend
//	PULSE_DIR        storage.dir
//	PULSE_BUCKET     storage.bucket
//	PULSE_PREFIX     storage.prefix
//	PULSE_REGION     storage.region
//	PULSE_ENDPOINT   storage.endpoint
//	PULSE_HUB_URL    storage.hub_url
//	PULSE_ADDR       hub.addr
//	PULSE_LOG_LEVEL  log.level
//
// # Usage
//
//	cfg, err := config.LoadFromDir(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Backend:", cfg.Storage.Backend)
package config
