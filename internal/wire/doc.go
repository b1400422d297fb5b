// Package wire implements the self-describing value model carried by
// instrumented messages. Value is a closed sum over nil, bool, int, float,
// string, binary, array and map; Encode and Decode translate it to and from
// MessagePack.
package wire
