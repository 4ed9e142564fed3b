package augment

import (
	"math/rand"

	"github.com/psmyrdek/autodrive/internal/telemetry"
)

// MirrorSessions returns left-right mirrored copies of the given sessions:
// the sensor array flips (l and r swap, ml and mr swap) and the steering keys
// swap (a and d). Forward, brake and speed are symmetric. The mirrored
// copies keep session boundaries so sequence building still never crosses
// drives.
func MirrorSessions(sessions []telemetry.Session) []telemetry.Session {
	out := make([]telemetry.Session, len(sessions))
	for i, s := range sessions {
		records := make([]telemetry.Record, len(s.Records))
		for j, r := range s.Records {
			records[j] = telemetry.Record{
				LSensor:  r.RSensor,
				MLSensor: r.MRSensor,
				CSensor:  r.CSensor,
				MRSensor: r.MLSensor,
				RSensor:  r.LSensor,
				Speed:    r.Speed,
				WPressed: r.WPressed,
				APressed: r.DPressed,
				SPressed: r.SPressed,
				DPressed: r.APressed,
				Ts:       r.Ts,
			}
		}
		out[i] = telemetry.Session{Name: s.Name + "-mirrored", Records: records}
	}
	return out
}

// NoiseSessions returns copies of the sessions with gaussian noise added to
// the five distance sensors, clamped to the simulator's sensor bounds. Speed
// and key state are untouched.
func NoiseSessions(sessions []telemetry.Session, level float64, rng *rand.Rand) []telemetry.Session {
	out := make([]telemetry.Session, len(sessions))
	for i, s := range sessions {
		records := make([]telemetry.Record, len(s.Records))
		for j, r := range s.Records {
			r.LSensor = clampSensor(r.LSensor + rng.NormFloat64()*level)
			r.MLSensor = clampSensor(r.MLSensor + rng.NormFloat64()*level)
			r.CSensor = clampSensor(r.CSensor + rng.NormFloat64()*level)
			r.MRSensor = clampSensor(r.MRSensor + rng.NormFloat64()*level)
			r.RSensor = clampSensor(r.RSensor + rng.NormFloat64()*level)
			records[j] = r
		}
		out[i] = telemetry.Session{Name: s.Name + "-noisy", Records: records}
	}
	return out
}

func clampSensor(v float64) float64 {
	if v < telemetry.SensorMin {
		return telemetry.SensorMin
	}
	if v > telemetry.SensorMax {
		return telemetry.SensorMax
	}
	return v
}
