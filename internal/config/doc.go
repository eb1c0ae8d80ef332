// Package config loads the walletd JSON configuration: server and metrics
// listeners, logging, wallet discovery and handshake parameters, chain
// endpoints and the lifecycle relay sinks. Missing fields are filled with
// defaults and relative paths resolve against the config file directory.
package config
