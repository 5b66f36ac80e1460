// Package kernel executes notebook code cells.
//
// An Engine streams ordered events for each execution: status busy, any
// stream or data output, an error if the run failed, then status idle.
//
// PTYEngine keeps one interpreter per session running a driver loop. Each
// cell is written to the driver's stdin followed by a line holding the
// record separator (0x1e) and a token. The driver runs the cell in a shared
// namespace and answers on the terminal with
//
//	ESC ] 7771 ; <token> ; <status> BEL
//
// Programs emit rich output by writing
//
//	ESC ] 7770 ; <mime type> ; <payload> BEL
//
// on a line of its own, which becomes a data event.
package kernel
