package engineconfig

import "errors"

// ErrConfigFileNotFound is returned when an explicitly named config file
// does not exist.
var ErrConfigFileNotFound = errors.New("engineconfig: config file not found")

// ErrConfigFileRead wraps an I/O failure reading a config file that does
// exist.
var ErrConfigFileRead = errors.New("engineconfig: failed to read config file")

// ErrConfigInvalid wraps a JSONC or JSON parse failure of a config file.
var ErrConfigInvalid = errors.New("engineconfig: invalid config")

// ErrHistoryDepthTooSmall is returned by Load when HistoryDepth < 2
// (spec.md §3: "H >= 2 so the writer never overwrites the currently
// readable metadata").
var ErrHistoryDepthTooSmall = errors.New("engineconfig: history_depth must be >= 2")
