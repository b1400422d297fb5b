// Package logsink defines the causal log record and the sinks that persist
// it. Every sink stores the same two-line record layout produced by Format,
// which is what ShiViz-style visualizers consume.
package logsink
