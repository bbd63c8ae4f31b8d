// Package bridge connects device groups to MQTT.
//
// Inbound, it subscribes to command and request topics: commands are
// tagged writes against a device group's PV fields, requests trigger
// reads whose results come back as state updates. Outbound, it turns
// monitor events into retained state messages so late subscribers see
// the last known value of every field, and it reports session health on
// a fixed interval.
//
// The bridge owns no channels itself; device groups are registered by
// the caller and torn down by the caller. Stopping the bridge only
// detaches its monitors and MQTT subscriptions.
package bridge
