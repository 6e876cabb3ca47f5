// Package decode turns instrument frames into MeasuredEvents.
//
// Binary frames carry one or more fixed-size blocks; each block holds the
// four event fields as little-endian unsigned integers of equal width.
// Text frames (the instrument's debug mode) carry one event as four
// whitespace-separated hex words written least-significant byte first.
//
// Decoding is pure: the same bytes always produce the same events, and a
// frame either decodes completely or fails with a FramingError.
package decode
