// Package fragment splits logical messages into MTU-sized packets and
// reassembles them on the receive path.
//
// All fragments of one message share a sequence number. FlagFragmented is set
// on every fragment of a multi-fragment message and FlagLastFragment on the
// final one; a message that fits in a single packet carries neither.
//
// The Assembler keys partial messages by (sender, sequence). Buffers that do
// not complete within the TTL are purged and the whole message is abandoned;
// there is no retransmission.
package fragment
