package accountvalue

import "errors"

// ErrTruncated is returned by Decode when buf is shorter than its own
// preamble claims.
var ErrTruncated = errors.New("accountvalue: truncated encoding")

// ErrOverflow is returned by Encode when balance or nonce cannot be
// represented in the codec's maximum field width (32 bytes each).
var ErrOverflow = errors.New("accountvalue: value exceeds 256 bits")
