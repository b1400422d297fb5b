// Package demo runs the client/server exchange used to exercise the codec.
//
// The client sends the integers 0..n-1. The server answers each one with the
// next value of the Fibonacci sequence it derives from the received values.
// Both sides record every send and receive through their codec so the two
// logs can be merged into one causal trace.
package demo
