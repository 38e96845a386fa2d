package embedded

import (
	_ "embed"
)

//go:embed ss2k-flasher.yaml
var exampleConfig []byte

// ExampleConfig returns a configuration file listing every key with its
// default value.
func ExampleConfig() []byte {
	return exampleConfig
}
