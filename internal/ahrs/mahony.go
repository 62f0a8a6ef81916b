// Package ahrs fuses gyroscope, accelerometer and magnetometer streams into
// a 3D orientation estimate.
//
// The filter is a Mahony-style explicit complementary filter: it keeps a unit
// quaternion, corrects the measured angular rate with the cross-product error
// between measured and estimated gravity/field directions, and integrates the
// quaternion rate equations at a fixed half-period.
package ahrs

import "math"

const (
	// Half of the nominal sample period in seconds. The integration step is
	// fixed rather than measured from wall-clock time; if the caller's loop
	// period drifts away from 2*halfPeriod the estimate mis-integrates.
	halfPeriod = 0.024

	// Approximation of 180/pi, kept for parity with the reference output.
	radToDeg = 57.3
)

// Mahony holds the orientation filter state. Not safe for concurrent use;
// the sampling loop is the only writer.
type Mahony struct {
	q0, q1, q2, q3 float64

	kp float64
	// ki is configured but not applied: the correction term is proportional
	// only, there is no running error integral.
	ki float64
}

// NewMahony returns a filter at the identity rotation with the given gains.
func NewMahony(kp, ki float64) *Mahony {
	return &Mahony{q0: 1, kp: kp, ki: ki}
}

// Update advances the orientation by one fixed step. Angular rates are in
// rad/s; accelerometer and magnetometer vectors may be in any unit, only
// their directions are used. A zero accel or mag vector is left unnormalized
// so a missing sensor degrades the estimate instead of dividing by zero.
func (m *Mahony) Update(gx, gy, gz, ax, ay, az, mx, my, mz float64) {
	q0, q1, q2, q3 := m.q0, m.q1, m.q2, m.q3

	norm := invSqrt(ax*ax + ay*ay + az*az)
	ax *= norm
	ay *= norm
	az *= norm

	norm = invSqrt(mx*mx + my*my + mz*mz)
	mx *= norm
	my *= norm
	mz *= norm

	q0q0, q0q1, q0q2, q0q3 := q0*q0, q0*q1, q0*q2, q0*q3
	q1q1, q1q2, q1q3 := q1*q1, q1*q2, q1*q3
	q2q2, q2q3 := q2*q2, q2*q3
	q3q3 := q3 * q3

	// Earth-frame magnetic field reference, re-derived from the current
	// attitude each step (reference-adaptive, not fixed).
	hx := 2*mx*(0.5-q2q2-q3q3) + 2*my*(q1q2-q0q3) + 2*mz*(q1q3+q0q2)
	hy := 2*mx*(q1q2+q0q3) + 2*my*(0.5-q1q1-q3q3) + 2*mz*(q2q3-q0q1)
	hz := 2*mx*(q1q3-q0q2) + 2*my*(q2q3+q0q1) + 2*mz*(0.5-q1q1-q2q2)
	bx := math.Sqrt(hx*hx + hy*hy)
	bz := hz

	// Estimated gravity and field directions for the current attitude.
	vx := 2 * (q1q3 - q0q2)
	vy := 2 * (q0q1 + q2q3)
	vz := q0q0 - q1q1 - q2q2 + q3q3
	wx := 2*bx*(0.5-q2q2-q3q3) + 2*bz*(q1q3-q0q2)
	wy := 2*bx*(q1q2-q0q3) + 2*bz*(q0q1+q2q3)
	wz := 2*bx*(q0q2+q1q3) + 2*bz*(0.5-q1q1-q2q2)

	// Orientation error: measured x estimated, summed over both references.
	ex := (ay*vz - az*vy) + (my*wz - mz*wy)
	ey := (az*vx - ax*vz) + (mz*wx - mx*wz)
	ez := (ax*vy - ay*vx) + (mx*wy - my*wx)

	if ex != 0.0 && ey != 0.0 && ez != 0.0 {
		gx += m.kp * ex
		gy += m.kp * ey
		gz += m.kp * ez
	}

	q0 += (-q1*gx - q2*gy - q3*gz) * halfPeriod
	q1 += (q0*gx + q2*gz - q3*gy) * halfPeriod
	q2 += (q0*gy - q1*gz + q3*gx) * halfPeriod
	q3 += (q0*gz + q1*gy - q2*gx) * halfPeriod

	norm = invSqrt(q0*q0 + q1*q1 + q2*q2 + q3*q3)
	m.q0, m.q1, m.q2, m.q3 = q0*norm, q1*norm, q2*norm, q3*norm
}

// Quaternion returns the current orientation as (q0, q1, q2, q3).
func (m *Mahony) Quaternion() (float64, float64, float64, float64) {
	return m.q0, m.q1, m.q2, m.q3
}

// Angles converts the quaternion to roll, pitch, yaw in degrees.
func (m *Mahony) Angles() (roll, pitch, yaw float64) {
	q0, q1, q2, q3 := m.q0, m.q1, m.q2, m.q3
	pitch = math.Asin(-2*q1*q3+2*q0*q2) * radToDeg
	roll = math.Atan2(2*q2*q3+2*q0*q1, -2*q1*q1-2*q2*q2+1) * radToDeg
	yaw = math.Atan2(-2*q1*q2-2*q0*q3, 2*q2*q2+2*q3*q3-1) * radToDeg
	return roll, pitch, yaw
}

func invSqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return 1 / math.Sqrt(x)
}
