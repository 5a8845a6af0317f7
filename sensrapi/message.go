// Package sensrapi holds the messages a SENSR engine delivers to listeners.
package sensrapi

import "time"

// OutputMessage carries tracked objects, system health and zone events. Either Stream
// or Event may be nil.
type OutputMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	Stream    *StreamMessage `json:"stream,omitempty"`
	Event     *EventMessage  `json:"event,omitempty"`
}

type StreamMessage struct {
	Objects []Object      `json:"objects,omitempty"`
	Health  *SystemHealth `json:"health,omitempty"`
}

type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type BoundingBox struct {
	Position Vector3 `json:"position"`
	Size     Vector3 `json:"size"`
	Yaw      float32 `json:"yaw"`
}

type Object struct {
	ID             int32          `json:"id"`
	Label          LabelType      `json:"label"`
	TrackingStatus TrackingStatus `json:"trackingStatus"`
	BBox           BoundingBox    `json:"bbox"`
	Velocity       Vector3        `json:"velocity"`
	Prediction     []Vector3      `json:"prediction,omitempty"`
	ZoneIDs        []int32        `json:"zoneIds,omitempty"`
	// Points is a flat x,y,z list.
	Points      []float32 `json:"points,omitempty"`
	Intensities []float32 `json:"intensities,omitempty"`
}

func (o Object) NumPoints() int {
	return len(o.Points) / 3
}

type EventMessage struct {
	Zone   []ZoneEvent   `json:"zone,omitempty"`
	Losing []LosingEvent `json:"losing,omitempty"`
}

type ZoneEvent struct {
	ID        int32         `json:"id"`
	Type      ZoneEventType `json:"type"`
	Object    Object        `json:"object"`
	Timestamp time.Time     `json:"timestamp"`
}

// LosingEvent is emitted when the engine stops tracking an object.
type LosingEvent struct {
	ID        int32     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

type SystemHealth struct {
	Master string                `json:"master"`
	Nodes  map[string]NodeHealth `json:"nodes,omitempty"`
}

type NodeHealth struct {
	Status  string            `json:"status"`
	Sensors map[string]string `json:"sensors,omitempty"`
}

type PointResult struct {
	Points []PointCloud `json:"points"`
}

type PointCloud struct {
	ID          string         `json:"id"`
	Type        PointCloudType `json:"type"`
	Points      []float32      `json:"points,omitempty"`
	Intensities []float32      `json:"intensities,omitempty"`
}

func (p PointCloud) NumPoints() int {
	return len(p.Points) / 3
}
