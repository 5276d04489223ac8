package angle

import "math"

// PlusMinusPi is an angle in radians, stored as a value in range (-pi, pi].
// All operations wrap their output into range.
type PlusMinusPi struct {
	float64
}

func (a PlusMinusPi) Add(b PlusMinusPi) PlusMinusPi {
	return FromFloat(a.float64 + b.float64)
}

func (a PlusMinusPi) Sub(b PlusMinusPi) PlusMinusPi {
	return FromFloat(a.float64 - b.float64)
}

func (a PlusMinusPi) AddFloat(f float64) PlusMinusPi {
	return FromFloat(a.float64 + f)
}

func (a PlusMinusPi) SubFloat(f float64) PlusMinusPi {
	return FromFloat(a.float64 - f)
}

// Float returns the angle in radians, range (-pi, pi].
func (a PlusMinusPi) Float() float64 {
	return a.float64
}

// Degrees returns the angle in degrees, range (-180, 180].
func (a PlusMinusPi) Degrees() float64 {
	return a.float64 * 180 / math.Pi
}

// FromFloat converts a float of any magnitude to a PlusMinusPi by calculating
// f mod 2pi and shifting into range.
func FromFloat(f float64) PlusMinusPi {
	return PlusMinusPi{Wrap(f)}
}

func FromDegrees(d float64) PlusMinusPi {
	return FromFloat(d * math.Pi / 180)
}

// Wrap maps any angle in radians into (-pi, pi].
func Wrap(f float64) float64 {
	d := math.Mod(f, 2*math.Pi)
	if d <= -math.Pi {
		d += 2 * math.Pi
	} else if d > math.Pi {
		d -= 2 * math.Pi
	}
	return d
}
