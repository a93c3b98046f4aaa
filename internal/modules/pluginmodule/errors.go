package pluginmodule

import "errors"

var (
	errNoConstructor = errors.New("no constructor configured")
	errNilInstance   = errors.New("constructor returned no instance")
	errIncompatible  = errors.New("incompatible type")
	errRepoStopped   = errors.New("repository stopped")
	errUnknownKind   = errors.New("no runtime for capability kind")
	errInvalidID     = errors.New("invalid extension id")
	errDuplicateID   = errors.New("duplicate extension id")
)
