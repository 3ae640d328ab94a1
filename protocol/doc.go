// Package protocol implements the binary wire protocol spoken between
// relite clients and servers. A connection begins with an 8-byte handshake
// word carrying the protocol version, after which the stream is a sequence
// of frames. Each frame is a fixed 8-byte header declaring the body length
// in 8-byte words and the request or response type, followed by exactly
// that many body bytes. Body fields are 8-byte aligned: integers and IEEE
// floats occupy one word, strings are NUL-terminated and padded, and blobs
// are length-prefixed and padded. SQL parameter tuples and result rows use
// a tagged value encoding able to round-trip the five SQL storage classes
// (integer, float, text, blob, null).
package protocol
