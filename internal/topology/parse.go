package topology

import (
	"github.com/BurntSushi/toml"
)

// ParseManifest decodes a lab manifest from its TOML source.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
