package tracking

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// TrackedObject is the last known pose of one rigid body plus its cached
// transform matrices. Objects are created by Handler and live as long as it.
type TrackedObject struct {
	ID uint32

	mu               sync.Mutex
	position         mgl64.Vec3
	rotation         mgl64.Quat
	networkTimestamp float64
	deviceTimestamp  time.Time
	firstSeen        time.Time
	updates          int

	dirty         bool
	recomputes    int
	globalToLocal mgl64.Mat4
	localToGlobal mgl64.Mat4
}

func newTrackedObject(id uint32, now time.Time) *TrackedObject {
	return &TrackedObject{
		ID:        id,
		rotation:  mgl64.QuatIdent(),
		firstSeen: now,
		dirty:     true,
	}
}

func (o *TrackedObject) update(ts float64, pos mgl64.Vec3, rot mgl64.Quat, now time.Time) {
	o.mu.Lock()
	o.networkTimestamp = ts
	o.deviceTimestamp = now
	o.position = pos
	o.rotation = rot
	o.updates++
	o.dirty = true
	o.mu.Unlock()
}

// Pose returns the position and rotation as last received. The rotation is
// not normalized.
func (o *TrackedObject) Pose() (mgl64.Vec3, mgl64.Quat) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position, o.rotation
}

// Timestamps returns the sender timestamp and local receive time of the last
// update. Both are zero for an object that was never updated.
func (o *TrackedObject) Timestamps() (float64, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.networkTimestamp, o.deviceTimestamp
}

func (o *TrackedObject) Updates() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updates
}

// UpdatesPerSecond is the update count over the time since the object was
// first referenced.
func (o *TrackedObject) UpdatesPerSecond(now time.Time) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	elapsed := now.Sub(o.firstSeen).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(o.updates) / elapsed
}

// Matrices returns globalToLocal = T(position)·R(rotation) and its inverse
// localToGlobal, recomputing them only if the pose changed since the last call.
func (o *TrackedObject) Matrices() (globalToLocal, localToGlobal mgl64.Mat4) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dirty {
		o.dirty = false
		o.recomputes++
		p := o.position
		o.globalToLocal = mgl64.Translate3D(p[0], p[1], p[2]).Mul4(o.rotation.Normalize().Mat4())
		o.localToGlobal = o.globalToLocal.Inv()
	}
	return o.globalToLocal, o.localToGlobal
}
