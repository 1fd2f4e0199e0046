package load

import "github.com/skudasov/shopload"

// CheckFromName returns custom runtime check for a handle name, nil means stop_if config is used
func CheckFromName(name string) shopload.RuntimeCheckFunc {
	switch name {
	default:
		return nil
	}
}
