/*
Package skytile holds the core types and services shared by every part of
the tile-pyramid engine: leveled logging with optional rotating log files,
the serialization/compression envelope used for stored payloads, the tile
image union type with its no-data conventions, keyword configuration maps,
and the optional Kafka shim for build activity events.

Subsystem packages (toast, pyramid, sampler, downres, storage, tiler) all
import this package and nothing here imports them.
*/
package skytile
