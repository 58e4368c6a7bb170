package tracking

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/types"
)

type Listener func(obj *TrackedObject)

// Subscription identifies one registered listener for Unsubscribe.
type Subscription uint64

type listenerEntry struct {
	sub Subscription
	fn  Listener
}

// Handler keeps the last pose per tracked id and notifies listeners on every
// update. Lookup-or-create is the only accessor: an id that was never updated
// reads as the identity pose.
type Handler struct {
	mu        sync.Mutex
	objects   map[uint32]*TrackedObject
	listeners map[uint32][]listenerEntry
	nextSub   Subscription
	now       func() time.Time
}

func NewHandler() *Handler {
	return &Handler{
		objects:   make(map[uint32]*TrackedObject),
		listeners: make(map[uint32][]listenerEntry),
		now:       time.Now,
	}
}

// Latest returns the object for id, creating it with the identity pose if
// it has not been seen yet. Never nil.
func (h *Handler) Latest(id uint32) *TrackedObject {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookupOrCreate(id)
}

func (h *Handler) lookupOrCreate(id uint32) *TrackedObject {
	obj, ok := h.objects[id]
	if !ok {
		obj = newTrackedObject(id, h.now())
		h.objects[id] = obj
	}
	return obj
}

// Update stores a new pose for id and calls the id's listeners synchronously.
func (h *Handler) Update(ts float64, id uint32, pos mgl64.Vec3, rot mgl64.Quat) {
	h.mu.Lock()
	obj := h.lookupOrCreate(id)
	listeners := append([]listenerEntry(nil), h.listeners[id]...)
	now := h.now()
	h.mu.Unlock()

	obj.update(ts, pos, rot, now)
	for _, l := range listeners {
		l.fn(obj)
	}
}

// UpdatePose applies a pose as delivered by the datagram receiver.
func (h *Handler) UpdatePose(p types.PoseUpdate) {
	pos := mgl64.Vec3{float64(p.Position[0]), float64(p.Position[1]), float64(p.Position[2])}
	rot := mgl64.Quat{
		W: float64(p.Rotation[3]),
		V: mgl64.Vec3{float64(p.Rotation[0]), float64(p.Rotation[1]), float64(p.Rotation[2])},
	}
	h.Update(p.Timestamp, p.ID, pos, rot)
}

func (h *Handler) Subscribe(id uint32, fn Listener) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	sub := h.nextSub
	h.listeners[id] = append(h.listeners[id], listenerEntry{sub: sub, fn: fn})
	monitoring.Logf("tracking: listening for id %d", id)
	return sub
}

// Unsubscribe removes a listener. Unknown ids or subscriptions are ignored.
func (h *Handler) Unsubscribe(id uint32, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.listeners[id]
	for i, l := range entries {
		if l.sub == sub {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(h.listeners, id)
		return
	}
	h.listeners[id] = entries
}

// Transform is a rigid transform with its position and rotation extracted.
type Transform struct {
	Matrix   mgl64.Mat4
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Relative expresses child in parent's local frame:
// parent.localToGlobal × child.globalToLocal.
func (h *Handler) Relative(child, parent uint32) Transform {
	c := h.Latest(child)
	p := h.Latest(parent)
	_, parentLocalToGlobal := p.Matrices()
	childGlobalToLocal, _ := c.Matrices()
	m := parentLocalToGlobal.Mul4(childGlobalToLocal)
	return Transform{
		Matrix:   m,
		Position: mgl64.TransformCoordinate(mgl64.Vec3{}, m),
		Rotation: mgl64.Mat4ToQuat(m),
	}
}

type ObjectSummary struct {
	ID               uint32  `json:"id"`
	Updates          int     `json:"updates"`
	UpdatesPerSecond float64 `json:"updates_per_second"`
}

// Summary reports update rates for every known id, ordered by id.
func (h *Handler) Summary() []ObjectSummary {
	h.mu.Lock()
	objs := make([]*TrackedObject, 0, len(h.objects))
	for _, obj := range h.objects {
		objs = append(objs, obj)
	}
	now := h.now()
	h.mu.Unlock()

	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	out := make([]ObjectSummary, 0, len(objs))
	for _, obj := range objs {
		out = append(out, ObjectSummary{
			ID:               obj.ID,
			Updates:          obj.Updates(),
			UpdatesPerSecond: obj.UpdatesPerSecond(now),
		})
	}
	return out
}

// LogSummary writes one line per known id.
func (h *Handler) LogSummary() {
	var b strings.Builder
	b.WriteString("tracking: summary of all updates received")
	for _, s := range h.Summary() {
		fmt.Fprintf(&b, "\n\t%d -> %d updates, %.1f updates/s", s.ID, s.Updates, s.UpdatesPerSecond)
	}
	monitoring.Logf("%s", b.String())
}
