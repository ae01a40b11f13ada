package buffer

import "errors"

var errPoolExhausted = errors.New("buffer: pool is full and every frame is pinned")
