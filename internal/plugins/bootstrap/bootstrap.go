// Package bootstrap links the builtin extensions into the binary. Each
// imported package registers itself with the builtin origin from init().
package bootstrap

import (
	_ "github.com/mantonx/vvf/internal/plugins/localsubs"
	_ "github.com/mantonx/vvf/internal/plugins/moviestructure"
)

// LoadBuiltins exists so callers can make the dependency explicit.
func LoadBuiltins() {}
