package drive

import (
	"math"

	"inspection-robot/internal/models"
)

// Odometry integrates differential encoder ticks into pose and cumulative
// distance. Distance is monotonically non-decreasing; it is the sole input to
// the geofence and the only position source in the system.
type Odometry struct {
	wheelCircM  float64
	trackM      float64
	ticksPerRev float64

	pose  models.Pose
	distM float64
}

func NewOdometry(wheelDiameterMM, wheelBaseMM float64, ticksPerRev int) *Odometry {
	return &Odometry{
		wheelCircM:  math.Pi * wheelDiameterMM / 1000.0,
		trackM:      wheelBaseMM / 1000.0,
		ticksPerRev: float64(ticksPerRev),
	}
}

// Integrate consumes the signed tick counts accumulated since the last call.
func (o *Odometry) Integrate(leftTicks, rightTicks int) {
	distL := float64(leftTicks) / o.ticksPerRev * o.wheelCircM
	distR := float64(rightTicks) / o.ticksPerRev * o.wheelCircM

	center := (distL + distR) / 2.0
	deltaTheta := (distR - distL) / o.trackM // radians

	headingRad := o.pose.HeadingDeg * math.Pi / 180.0
	o.pose.X += center * math.Cos(headingRad)
	o.pose.Y += center * math.Sin(headingRad)
	o.pose.HeadingDeg = math.Mod(o.pose.HeadingDeg+deltaTheta*180.0/math.Pi+360.0, 360.0)

	o.distM += math.Abs(center)
}

func (o *Odometry) Pose() models.Pose { return o.pose }

func (o *Odometry) DistanceM() float64 { return o.distM }

// Reset zeroes pose and distance. Called on inspect_start, reset_odometry and
// geofence_override.
func (o *Odometry) Reset() {
	o.pose = models.Pose{}
	o.distM = 0
}
