// Package mqtt exports telemetry events to an MQTT broker for external
// monitoring. It is optional: the bridge is disabled (no-op) unless a
// broker URL is configured.
//
// The bridge uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a birth message ("online") to the availability topic; a
// will message ensures the availability topic transitions to "offline"
// on unexpected disconnects.
package mqtt
