package config

import (
	"errors"
)

// Sentinel error kinds for this package. Backend errors are always reported
// together with ErrInvalidConfig.
var (
	ErrInvalidConfig  = errors.New("invalid config")
	ErrLoadConfig     = errors.New("load config failed")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrBackendSetting = errors.New("missing backend setting")
)
