package sensrapi

import (
	"fmt"
	"strconv"
)

type LabelType uint8

const (
	LabelNone LabelType = iota
	LabelCar
	LabelPedestrian
	LabelCyclist
	LabelMisc
)

var labelNames = []string{"LABEL_NONE", "LABEL_CAR", "LABEL_PEDESTRIAN", "LABEL_CYCLIST", "LABEL_MISC"}

func (l LabelType) String() string {
	return enumName(labelNames, uint8(l))
}

func (l LabelType) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LabelType) UnmarshalText(text []byte) error {
	v, err := parseEnum(labelNames, "label", string(text))
	*l = LabelType(v)
	return err
}

type TrackingStatus uint8

const (
	TrackingInvisible TrackingStatus = iota
	TrackingDrifting
	TrackingValidating
	TrackingTracking
)

var trackingNames = []string{"INVISIBLE", "DRIFTING", "VALIDATING", "TRACKING"}

func (s TrackingStatus) String() string {
	return enumName(trackingNames, uint8(s))
}

func (s TrackingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TrackingStatus) UnmarshalText(text []byte) error {
	v, err := parseEnum(trackingNames, "tracking status", string(text))
	*s = TrackingStatus(v)
	return err
}

type ZoneEventType uint8

const (
	ZoneEntry ZoneEventType = iota
	ZoneExit
)

var zoneEventNames = []string{"ENTRY", "EXIT"}

func (t ZoneEventType) String() string {
	return enumName(zoneEventNames, uint8(t))
}

func (t ZoneEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ZoneEventType) UnmarshalText(text []byte) error {
	v, err := parseEnum(zoneEventNames, "zone event type", string(text))
	*t = ZoneEventType(v)
	return err
}

type PointCloudType uint8

const (
	PointCloudRaw PointCloudType = iota
	PointCloudGround
	PointCloudBackground
)

var pointCloudNames = []string{"RAW", "GROUND", "BACKGROUND"}

func (t PointCloudType) String() string {
	return enumName(pointCloudNames, uint8(t))
}

func (t PointCloudType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PointCloudType) UnmarshalText(text []byte) error {
	v, err := parseEnum(pointCloudNames, "point cloud type", string(text))
	*t = PointCloudType(v)
	return err
}

// enumName falls back to the number for values newer engines may send.
func enumName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return strconv.FormatUint(uint64(v), 10)
}

func parseEnum(names []string, kind string, s string) (uint8, error) {
	for i, name := range names {
		if name == s {
			return uint8(i), nil
		}
	}
	if v, err := strconv.ParseUint(s, 10, 8); err == nil {
		return uint8(v), nil
	}
	return 0, fmt.Errorf("unknown %s: %q", kind, s)
}
