// Package protocol defines the envelope contract exchanged between the
// scenectl core and a host-embedded shim: typed message envelopes with
// priority classes, the closed per-direction message catalog, and the
// CBOR body codec. Wire framing lives in protocol/frame; outbound
// buffering policy lives in protocol/lanes.
package protocol
