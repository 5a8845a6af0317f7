package samples

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/sensrapi"
	"go.uber.org/zap"
)

// CumulativeAvg is a running mean.
type CumulativeAvg struct {
	avg   float64
	count int
}

func (c *CumulativeAvg) Update(value float64) {
	c.count++
	n := float64(c.count)
	c.avg = c.avg*((n-1)/n) + value/n
}

func (c *CumulativeAvg) Get() float64 {
	return c.avg
}

func (c *CumulativeAvg) Count() int {
	return c.count
}

// ATM tracks how long objects stay in one zone. Stays no longer than noise are ignored.
type ATM struct {
	zoneID    int32
	noise     time.Duration
	residents map[int32]time.Time
	avg       CumulativeAvg
}

var errNotInATM = errors.New("object is not in the ATM zone")

func NewATM(zoneID int32, noise time.Duration) *ATM {
	return &ATM{
		zoneID:    zoneID,
		noise:     noise,
		residents: make(map[int32]time.Time),
	}
}

func (a *ATM) ID() int32 {
	return a.zoneID
}

// OnEnter keeps the first entry time if the object re-enters without leaving.
func (a *ATM) OnEnter(objID int32, ts time.Time) {
	if _, ok := a.residents[objID]; !ok {
		a.residents[objID] = ts
	}
}

func (a *ATM) OnExit(objID int32, ts time.Time) error {
	start, ok := a.residents[objID]
	if !ok {
		return fmt.Errorf("%w: obj %d, ATM %d", errNotInATM, objID, a.zoneID)
	}
	delete(a.residents, objID)
	if stay := ts.Sub(start); stay > a.noise {
		a.avg.Update(stay.Seconds())
	}
	return nil
}

func (a *ATM) AvgResidentTime() float64 {
	return a.avg.Get()
}

type resident struct {
	id           int32
	bornAt       time.Time
	startingZone int32
	hasZone      bool
	minHeight    float32
	allMisc      bool
}

func newResident(obj sensrapi.Object, ts time.Time) *resident {
	r := &resident{
		id:        obj.ID,
		bornAt:    ts,
		minHeight: obj.BBox.Size.Z,
		allMisc:   obj.Label == sensrapi.LabelMisc,
	}
	r.updateStartingZone(obj)
	return r
}

func (r *resident) push(obj sensrapi.Object) {
	if obj.BBox.Size.Z < r.minHeight {
		r.minHeight = obj.BBox.Size.Z
	}
	if obj.Label != sensrapi.LabelMisc {
		r.allMisc = false
	}
	r.updateStartingZone(obj)
}

func (r *resident) updateStartingZone(obj sensrapi.Object) {
	if !r.hasZone && len(obj.ZoneIDs) > 0 {
		r.startingZone = obj.ZoneIDs[0]
		r.hasZone = true
	}
}

// isDoor is true for objects that were never shorter than a person could be.
func (r *resident) isDoor() bool {
	return r.minHeight > 2.5
}

func (r *resident) isMisc() bool {
	return r.allMisc
}

type BankConfig struct {
	Zones                  map[int32]string `json:"zones,omitempty"`
	ATMs                   []int32          `json:"atms"`
	ResidentTimeoutSeconds float64          `json:"residentTimeoutSeconds"`
	NoiseThresholdSeconds  float64          `json:"noiseThresholdSeconds"`
}

func DefaultBankConfig() BankConfig {
	return BankConfig{
		ATMs:                   []int32{1007, 1008, 1009, 1010, 1011},
		ResidentTimeoutSeconds: 60 * 60,
		NoiseThresholdSeconds:  2,
	}
}

// Bank measures how long people stay in a bank and at each of its ATMs.
type Bank struct {
	base

	mu          sync.Mutex
	timeout     time.Duration
	zones       map[int32]string
	residents   map[int32]*resident
	residentAvg CumulativeAvg
	atms        map[int32]*ATM
}

func NewBank(env Env, cfg BankConfig) *Bank {
	noise := seconds(cfg.NoiseThresholdSeconds)
	atms := make(map[int32]*ATM, len(cfg.ATMs))
	for _, id := range cfg.ATMs {
		atms[id] = NewATM(id, noise)
	}
	b := &Bank{
		base:      newBase(listener.OutputMessage, env),
		timeout:   seconds(cfg.ResidentTimeoutSeconds),
		residents: make(map[int32]*resident),
		atms:      atms,
	}
	b.SetZones(cfg.Zones)
	return b
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SetZones replaces the zone names used in reports.
func (b *Bank) SetZones(zones map[int32]string) {
	copied := make(map[int32]string, len(zones))
	for id, name := range zones {
		copied[id] = name
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zones = copied
}

// ATMAvgResidentTime reports the average stay at the ATM watching zoneID.
func (b *Bank) ATMAvgResidentTime(zoneID int32) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	atm, ok := b.atms[zoneID]
	if !ok {
		return 0, false
	}
	return atm.AvgResidentTime(), true
}

func (b *Bank) AvgResidentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.residentAvg.Get()
}

func (b *Bank) zoneName(r *resident) string {
	if !r.hasZone {
		return "No Zone"
	}
	if name, ok := b.zones[r.startingZone]; ok {
		return name
	}
	return fmt.Sprintf("Zone %d", r.startingZone)
}

func (b *Bank) OnOutputMessage(msg *sensrapi.OutputMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Stream != nil {
		for _, obj := range msg.Stream.Objects {
			r, ok := b.residents[obj.ID]
			if !ok {
				b.residents[obj.ID] = newResident(obj, msg.Timestamp)
				continue
			}
			r.push(obj)
			if msg.Timestamp.Sub(r.bornAt) > b.timeout {
				b.printf("Obj(%d) lives in bank too long.", obj.ID)
				delete(b.residents, obj.ID)
			}
		}
	}
	if msg.Event != nil {
		for _, ev := range msg.Event.Zone {
			switch ev.Type {
			case sensrapi.ZoneEntry:
				b.onEntry(ev.ID, ev.Object.ID, ev.Timestamp)
			case sensrapi.ZoneExit:
				b.onExit(ev.ID, ev.Object.ID, ev.Timestamp)
			}
		}
		for _, ev := range msg.Event.Losing {
			b.onLosing(ev.ID, ev.Timestamp)
		}
	}
}

func (b *Bank) onEntry(zoneID, objID int32, ts time.Time) {
	if atm, ok := b.atms[zoneID]; ok {
		atm.OnEnter(objID, ts)
	}
}

func (b *Bank) onExit(zoneID, objID int32, ts time.Time) {
	atm, ok := b.atms[zoneID]
	if !ok {
		return
	}
	if err := atm.OnExit(objID, ts); err != nil {
		b.env.Log.Warn("Unexpected ATM exit", zap.Error(err))
	}
	b.printf("ATM(%d) avg: %.2fs.", atm.ID(), atm.AvgResidentTime())
}

func (b *Bank) onLosing(objID int32, ts time.Time) {
	r, ok := b.residents[objID]
	if !ok {
		b.env.Log.Debug("Lost an object that was never seen", zap.Int32("obj", objID))
		return
	}
	delete(b.residents, objID)
	switch {
	case r.isMisc():
		b.printf("Obj(%d) is misc.", objID)
	case r.isDoor():
		b.printf("Obj(%d) is door.", objID)
	default:
		stay := ts.Sub(r.bornAt).Seconds()
		b.residentAvg.Update(stay)
		b.printf("Obj(%d) resident_time: %.2f, Avg: %.2f, Starting Zone: %s", objID, stay, b.residentAvg.Get(), b.zoneName(r))
	}
}
