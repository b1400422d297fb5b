// Package codec stamps outbound messages with the process's vector clock and
// merges the clocks carried by inbound ones.
//
// Prepare follows the send rule: tick the local counter, then attach a
// snapshot of the clock to the payload. Unpack follows the receive rule:
// merge the sender's clock, then tick the local counter. Every call appends
// exactly one record to the codec's log sink.
//
// Messages are MessagePack maps of the form
//
//	{"clock": {"<pid>": <counter>, ...}, "payload": <value>}
package codec
