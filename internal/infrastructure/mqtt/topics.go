package mqtt

import "fmt"

// Topic prefixes for pvgate MQTT traffic.
//
// The flat scheme is pvgate/{category}/... ; bridge-level topics
// (command, ack, state, health) are built by the bridge package.
const (
	// TopicPrefix is the base for all pvgate topics.
	TopicPrefix = "pvgate"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "pvgate/system"
)

// Topics provides builders for pvgate MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// SystemStatus returns the system status topic.
//
// Example: pvgate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: pvgate/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllTopics returns a pattern matching all pvgate topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: pvgate/#
func (Topics) AllTopics() string {
	return "pvgate/#"
}
