package triepage

import "errors"

// ErrBufferTooSmall is returned when a page buffer is shorter than one
// pagestore page.
var ErrBufferTooSmall = errors.New("triepage: buffer too small")

// ErrPageFull is returned when a page's inline slotted array is full and no
// nibble has entries left to promote into a child page (every live entry has
// an empty remaining path at this node).
var ErrPageFull = errors.New("triepage: page full, nothing left to promote")

// ErrValueTooLarge is returned when the entries moved under the promoted
// nibble do not all fit on the freshly allocated child page.
var ErrValueTooLarge = errors.New("triepage: value too large for a single page")
