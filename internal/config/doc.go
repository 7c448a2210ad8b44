// Package config provides the configuration of the ledgerbus node.
//
// Configuration is resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← LEDGERBUS_<SECTION>_<KEY>
//	├─────────────────────────────┤
//	│  2. Config File             │  ← ledgerbus.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The file is TOML with the sections [log], [dispatcher], [metrics] and
// [simulation]:
//
//	[dispatcher]
//	mode = "pool"          # pool or inline
//	queue_size = 1024
//	overflow = "block"     # block or reject
//	drain_timeout = "5s"
//
// # Sub-packages
//
//   - loader: raw TOML and environment loading into maps
package config
