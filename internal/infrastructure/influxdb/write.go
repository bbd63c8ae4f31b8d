package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePVSample writes one numeric process variable observation.
//
// This is the primary method for recording PV telemetry. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - device: Record name prefix (e.g., "mot1:ax1")
//   - field: Field suffix (e.g., ".RBV")
//   - tag: Encoding tag of the value ("d", "l", ...)
//   - value: The numeric value to record
//   - observed: When the value was seen
//
// Example:
//
//	client.WritePVSample("mot1:ax1", ".RBV", "d", 12.5, time.Now())
func (c *Client) WritePVSample(device, field, tag string, value float64, observed time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pv_sample",
		map[string]string{
			"device": device,
			"field":  field,
			"tag":    tag,
		},
		map[string]interface{}{
			"value": value,
		},
		observed,
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionMetric writes a gateway session counter.
//
// Used for tracking event throughput and drop rates over time.
//
// Parameters:
//   - metricName: Counter name (e.g., "events_rx", "events_dropped")
//   - value: The counter value
func (c *Client) WriteSessionMetric(metricName string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"gateway_session",
		map[string]string{
			"metric": metricName,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
