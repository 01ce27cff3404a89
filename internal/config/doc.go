// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the taskchat client.
//
// Supports TOML configuration with sensible defaults, environment variable
// overrides, and validation with clamping of out-of-range values.
//
// Configuration file locations (in order of precedence):
//   - ~/.taskchat/config.toml
//   - Built-in defaults
package config
