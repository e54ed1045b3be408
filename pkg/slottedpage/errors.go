package slottedpage

import "errors"

// ErrKeyTooLong is returned when a key exceeds nibblepath.MaxNibbles.
var ErrKeyTooLong = errors.New("slottedpage: key exceeds max nibble length")

// ErrBufferTooSmall is returned by New when buf cannot hold the header.
var ErrBufferTooSmall = errors.New("slottedpage: buffer smaller than header")

// ErrCorrupt is returned when a buffer's header or slot table is internally
// inconsistent (e.g. low+high exceeds the buffer size).
var ErrCorrupt = errors.New("slottedpage: corrupt slotted array header")
