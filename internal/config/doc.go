/*
Package config holds manualbox settings.

Values come from, in increasing priority: compiled-in defaults
(NewDefault), a YAML file (LoadFromFile), MANUALBOX_* environment
variables (LoadFromEnv), and command line flags applied by the caller.

# Example

	global:
	  log_level: INFO
	  log_format: text
	storage:
	  path: ~/.manualbox
	  scrypt_work_factor: 18
	mount:
	  fsname: manualbox
	  attr_timeout: 1s
	access:
	  policy: auto          # auto, open or read
	  session_key: handle   # handle or process
	  decision_command: /usr/bin/manualboxinput
	  decision_timeout: 2m
	  process_names: true
	  max_records: 4096
	  sweep_interval: 1m
	statfs:
	  mode: placeholder     # placeholder or passthrough
	monitoring:
	  metrics:
	    enabled: false
	    address: 127.0.0.1:9273
	    path: /metrics

# Environment

	MANUALBOX_LOG_LEVEL        global.log_level
	MANUALBOX_LOG_FILE         global.log_file
	MANUALBOX_STORAGE          storage.path
	MANUALBOX_KEY_FILE         storage.key_file
	MANUALBOX_POLICY           access.policy
	MANUALBOX_SESSION_KEY      access.session_key
	MANUALBOX_DECISION_COMMAND access.decision_command
	MANUALBOX_DECISION_TIMEOUT access.decision_timeout
	MANUALBOX_STATFS           statfs.mode
	MANUALBOX_METRICS          monitoring.metrics.enabled

The key itself is never part of the configuration file. See
MANUALBOX_KEY in the adapter package.
*/
package config
