package spandict

import "errors"

// ErrEntryTooLarge is returned when a (key, value) record would not fit in
// a single entry page regardless of where it starts.
var ErrEntryTooLarge = errors.New("spandict: record too large for one page")

// ErrKeyTooLong is returned when a key's length does not fit the record
// format's one-byte key-length field.
var ErrKeyTooLong = errors.New("spandict: key exceeds 255 bytes")
