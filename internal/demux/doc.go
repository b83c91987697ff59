// Package demux splits an H.264 Annex B elementary stream into NAL units and
// assembles them into access units for a hardware decoder.
//
// The central type is [Demuxer], which keeps the most recently seen SPS/PPS
// pair for a playback session and pairs it with every coded frame it finds.
// [Scan] exposes the raw start-code scanner. Segments that arrive wrapped in
// MPEG-TS can be unwrapped to their H.264 PES payload first.
package demux
