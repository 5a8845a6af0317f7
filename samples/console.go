package samples

import (
	"sort"

	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/sensrapi"
)

// ZoneEventListener prints zone entries and exits.
type ZoneEventListener struct {
	base
}

func NewZoneEventListener(env Env) *ZoneEventListener {
	return &ZoneEventListener{base: newBase(listener.OutputMessage, env)}
}

func (l *ZoneEventListener) OnOutputMessage(msg *sensrapi.OutputMessage) {
	if msg.Event == nil {
		return
	}
	for _, ev := range msg.Event.Zone {
		switch ev.Type {
		case sensrapi.ZoneEntry:
			l.printf("Entering zone (%d) : obj (%d)", ev.ID, ev.Object.ID)
		case sensrapi.ZoneExit:
			l.printf("Exiting zone (%d) : obj (%d)", ev.ID, ev.Object.ID)
		}
	}
}

// PointResultListener prints point counts and intensity statistics per point cloud.
type PointResultListener struct {
	base
}

func NewPointResultListener(env Env) *PointResultListener {
	return &PointResultListener{base: newBase(listener.PointResult, env)}
}

func (l *PointResultListener) OnPointResult(msg *sensrapi.PointResult) {
	for _, pc := range msg.Points {
		n := pc.NumPoints()
		stats, ok := sensrapi.IntensityStats(pc.Intensities)
		prefix := "Intensity"
		switch pc.Type {
		case sensrapi.PointCloudRaw:
			if ok {
				l.printf("Topic (%s) no. of points - %d. Min and max intensity is [%g, %g]", pc.ID, n, stats.Min, stats.Max)
			} else {
				l.printf("Topic (%s) no. of points - %d.", pc.ID, n)
			}
		case sensrapi.PointCloudGround:
			l.printf("Ground points no. of points - %d.", n)
		case sensrapi.PointCloudBackground:
			l.printf("Environment points no. of points - %d", n)
			prefix = "Point intensity"
		default:
			continue
		}
		if ok {
			l.printf("%s [min, median, max] is [%g, %g, %g]", prefix, stats.Min, stats.Median, stats.Max)
		}
	}
}

// ObjectListener prints the state of every tracked object.
type ObjectListener struct {
	base
}

func NewObjectListener(env Env) *ObjectListener {
	return &ObjectListener{base: newBase(listener.OutputMessage, env)}
}

func (l *ObjectListener) OnOutputMessage(msg *sensrapi.OutputMessage) {
	if msg.Stream == nil {
		return
	}
	for _, obj := range msg.Stream.Objects {
		l.printf("Obj (%d): point no. %d", obj.ID, obj.NumPoints())
		if stats, ok := sensrapi.IntensityStats(obj.Intensities); ok {
			l.printf("Obj (%d): point intensity [min, median, max] is [%g, %g, %g]", obj.ID, stats.Min, stats.Median, stats.Max)
		}
		l.printf("Obj (%d): velocity %+v", obj.ID, obj.Velocity)
		l.printf("Obj (%d): bbox %+v", obj.ID, obj.BBox)
		l.printf("Obj (%d): tracking status %s", obj.ID, obj.TrackingStatus)
		l.printf("Obj (%d): Object type %s", obj.ID, obj.Label)
		l.printf("Obj (%d): prediction %+v", obj.ID, obj.Prediction)
	}
}

// HealthListener prints system, node and sensor health.
type HealthListener struct {
	base
}

func NewHealthListener(env Env) *HealthListener {
	return &HealthListener{base: newBase(listener.OutputMessage, env)}
}

func (l *HealthListener) OnOutputMessage(msg *sensrapi.OutputMessage) {
	if msg.Stream == nil || msg.Stream.Health == nil {
		return
	}
	health := msg.Stream.Health
	l.printf("System health: %s", health.Master)
	if len(health.Nodes) == 0 {
		l.printf("  No nodes are connected")
		return
	}
	for _, nodeKey := range sortedKeys(health.Nodes) {
		node := health.Nodes[nodeKey]
		l.printf("  Node (%s) health: %s", nodeKey, node.Status)
		if len(node.Sensors) == 0 {
			l.printf("    No sensors are connected")
			continue
		}
		for _, sensorKey := range sortedKeys(node.Sensors) {
			l.printf("    Sensor (%s) health: %s", sensorKey, node.Sensors[sensorKey])
		}
	}
}

// TimeChecker prints how far behind the wall clock each output message is.
type TimeChecker struct {
	base
}

func NewTimeChecker(env Env) *TimeChecker {
	return &TimeChecker{base: newBase(listener.OutputMessage, env)}
}

func (l *TimeChecker) OnOutputMessage(msg *sensrapi.OutputMessage) {
	diff := l.env.Now().Sub(msg.Timestamp)
	l.printf("Diff: %d ms", diff.Milliseconds())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
