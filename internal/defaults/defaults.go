// Package defaults provides the embedded example configuration written
// by the reviewhelper init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte
