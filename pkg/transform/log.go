package transform

import (
	"shapegroom/pkg/geometry"
)

// Log is the append-only, ordered list of transforms recorded for a sample.
// Records appear in the order they were applied.
type Log struct {
	records []Record
}

// NewLog creates a log holding the given records in order.
func NewLog(records ...Record) Log {
	return Log{records: append([]Record(nil), records...)}
}

// Append adds a record at the end of the log.
func (l *Log) Append(r Record) {
	l.records = append(l.records, r)
}

// Len returns the number of records.
func (l Log) Len() int {
	return len(l.records)
}

// Records returns a copy of the records in applied order.
func (l Log) Records() []Record {
	return append([]Record(nil), l.records...)
}

// Clone returns an independent copy of the log.
func (l Log) Clone() Log {
	return NewLog(l.records...)
}

// Find returns the first record produced by stage.
func (l Log) Find(stage string) (Record, bool) {
	for _, r := range l.records {
		if r.Stage() == stage {
			return r, true
		}
	}
	return nil, false
}

// Rigid returns the rigid-alignment record, if present.
func (l Log) Rigid() (Rigid, bool) {
	for _, r := range l.records {
		if rr, ok := r.(Rigid); ok {
			return rr, true
		}
	}
	return Rigid{}, false
}

// Forward maps a point from the original frame to the final frame by
// applying every record in recorded order.
func (l Log) Forward(p geometry.Point3D) geometry.Point3D {
	for _, r := range l.records {
		p = r.Apply(p)
	}
	return p
}

// Inverse maps a point from the final frame back to the original frame by
// inverting every record, last-applied first.
func (l Log) Inverse(p geometry.Point3D) geometry.Point3D {
	for i := len(l.records) - 1; i >= 0; i-- {
		p = l.records[i].Invert(p)
	}
	return p
}

// ForwardPlane maps each point of a plane through Forward.
func (l Log) ForwardPlane(pp geometry.PlanePoints) geometry.PlanePoints {
	return pp.Map(l.Forward)
}

// InversePlane maps each point of a plane through Inverse.
func (l Log) InversePlane(pp geometry.PlanePoints) geometry.PlanePoints {
	return pp.Map(l.Inverse)
}
