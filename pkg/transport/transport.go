// Package transport carries a cutting plane picked in one sample's original
// frame into the aligned frame shared by the groomed population.
//
// A sample's log holds, in applied order, an optional axis flip, the
// center-of-mass and centering translations and the rigid matrix. Rigid
// matrices are stored sample -> reference, so replaying the source sample's
// records forward (flip, subtract both translations, multiply by the rigid
// matrix) lands the plane in the reference frame, which is also the aligned
// frame of every target.
package transport

import (
	"fmt"
	"sort"

	"shapegroom/internal/models"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/transform"
)

// Transport maps planes between the frames of a groomed population. It
// holds copies of the sample logs and never mutates them.
type Transport struct {
	logs map[string]transform.Log
}

// New snapshots the transform logs of the given samples.
func New(samples []*models.Sample) *Transport {
	logs := make(map[string]transform.Log, len(samples))
	for _, s := range samples {
		logs[s.ID] = s.Transforms()
	}
	return &Transport{logs: logs}
}

// FromLogs builds a transport from logs keyed by sample ID, e.g. read back
// from transform files.
func FromLogs(logs map[string]transform.Log) *Transport {
	copied := make(map[string]transform.Log, len(logs))
	for id, l := range logs {
		copied[id] = l.Clone()
	}
	return &Transport{logs: copied}
}

// completeLog returns the log of id, which must hold a rigid record.
func (t *Transport) completeLog(id string) (transform.Log, error) {
	l, ok := t.logs[id]
	if !ok {
		return transform.Log{}, failure.Missingf("no transform log for sample %s", id)
	}
	if _, ok := l.Rigid(); !ok {
		return transform.Log{}, failure.Missingf("transform log of sample %s has no rigid alignment", id)
	}
	return l, nil
}

// Apply maps a plane picked in the original frame of sourceID into the
// aligned frame of targetID. The source log is replayed forward; both
// samples must have completed grooming.
func (t *Transport) Apply(plane geometry.PlanePoints, sourceID, targetID string) (geometry.PlanePoints, error) {
	src, err := t.completeLog(sourceID)
	if err != nil {
		return geometry.PlanePoints{}, err
	}
	if _, err := t.completeLog(targetID); err != nil {
		return geometry.PlanePoints{}, err
	}
	if _, err := plane.Normal(); err != nil {
		return geometry.PlanePoints{}, fmt.Errorf("plane picked on %s: %w", sourceID, err)
	}

	out := src.ForwardPlane(plane)
	if _, err := out.Normal(); err != nil {
		return geometry.PlanePoints{}, fmt.Errorf("plane transported from %s to %s: %w", sourceID, targetID, err)
	}
	return out, nil
}

// ToOriginal maps a plane in the aligned frame back into the original frame
// of targetID by inverting its log, last record first.
func (t *Transport) ToOriginal(plane geometry.PlanePoints, targetID string) (geometry.PlanePoints, error) {
	l, err := t.completeLog(targetID)
	if err != nil {
		return geometry.PlanePoints{}, err
	}
	return l.InversePlane(plane), nil
}

// All maps the plane picked on sourceID into the aligned frame of every
// sample. The result is keyed by sample ID; each entry is an independent
// copy.
func (t *Transport) All(plane geometry.PlanePoints, sourceID string) (map[string]geometry.PlanePoints, error) {
	ids := make([]string, 0, len(t.logs))
	for id := range t.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]geometry.PlanePoints, len(ids))
	for _, id := range ids {
		p, err := t.Apply(plane, sourceID, id)
		if err != nil {
			return nil, failure.ForSample("transport", id, err)
		}
		out[id] = p
	}
	return out, nil
}
