// Package codec implements the base-protocol framing used on a language
// server's standard input and output.
//
// Every message is a header block terminated by an empty line followed by a
// JSON body of exactly Content-Length bytes:
//
//	Content-Length: 52\r\n
//	\r\n
//	{"jsonrpc":"2.0","method":"initialized","params":{}}
//
// The Decoder is a two-state machine (header, body) that tolerates arbitrary
// read boundaries. Frames without a length header and bodies that are not
// JSON are dropped and reported through OnDrop; decoding resumes with the
// next frame.
//
// Example Usage:
//
//	dec := codec.NewDecoder(stdout)
//	for msg := range dec.Messages() {
//		handle(msg)
//	}
//
//	enc := codec.NewEncoder(stdin)
//	err := enc.Encode(request)
package codec
