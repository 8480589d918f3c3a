package records

import (
	"math"
	"sort"
	"strings"
	"time"

	"clinicore/internal/metrics"
)

// recentHistoryLimit caps the history entries on a patient summary.
const recentHistoryLimit = 5

// planProgress derives the completion percentage from the task list:
// round(100 * completed / total). An empty task list is 0.
func planProgress(tasks []CarePlanTask) int {
	if len(tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range tasks {
		if t.Completed {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(tasks))))
}

// clinicalTime parses a record's own date and time fields. Records with
// an unparseable date sort before everything else, which degrades to
// insertion order among themselves (sorting is stable).
func clinicalTime(date, clock string) (time.Time, bool) {
	if clock != "" {
		if ts, err := time.Parse(DateLayout+" "+TimeLayout, date+" "+clock); err == nil {
			return ts, true
		}
	}
	ts, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// PatientSummary assembles the cross-entity projection for a patient
// detail view. Latest and recent mean most recent by the record's own
// clinical date and time, not by insertion position. Returns nil when
// the patient does not exist.
func (s *Store) PatientSummary(patientID string) *PatientSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.patientIdx[patientID]
	if !ok {
		return nil
	}

	summary := &PatientSummary{
		Patient:            s.doc.Patients[idx],
		ActiveCarePlans:    []CarePlan{},
		CurrentMedications: []Medication{},
		RecentHistory:      []HistoryEntry{},
	}

	for i, v := range s.doc.VitalSigns {
		if v.PatientID != patientID {
			continue
		}
		if summary.LatestVitals == nil || laterReading(v, *summary.LatestVitals) {
			reading := s.doc.VitalSigns[i]
			summary.LatestVitals = &reading
		}
	}

	for _, p := range s.doc.CarePlans {
		if p.PatientID == patientID && p.Status == StatusActive {
			summary.ActiveCarePlans = append(summary.ActiveCarePlans, p.Clone())
		}
	}

	for _, m := range s.doc.Medications {
		if m.PatientID == patientID && m.Status == StatusActive {
			summary.CurrentMedications = append(summary.CurrentMedications, m.Clone())
		}
	}

	history := []HistoryEntry{}
	for _, h := range s.doc.MedicalHistory {
		if h.PatientID == patientID {
			history = append(history, h)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		ti, iok := clinicalTime(history[i].Date, "")
		tj, jok := clinicalTime(history[j].Date, "")
		if iok != jok {
			return iok // dated entries first
		}
		return ti.After(tj)
	})
	if len(history) > recentHistoryLimit {
		history = history[:recentHistoryLimit]
	}
	summary.RecentHistory = history

	return summary
}

// laterReading reports whether a is clinically more recent than b.
// When neither parses, the later-inserted reading wins, so callers
// iterating in insertion order keep the last one.
func laterReading(a, b VitalSigns) bool {
	ta, aok := clinicalTime(a.Date, a.Time)
	tb, bok := clinicalTime(b.Date, b.Time)
	if aok && bok {
		return ta.After(tb)
	}
	if aok != bok {
		return aok
	}
	return true
}

// SearchPatients returns patients whose first name, last name or id
// contains the term case-insensitively, or whose phone number contains
// it verbatim. An empty term matches everyone.
func (s *Store) SearchPatients(term string) []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(term)
	out := []Patient{}
	for _, p := range s.doc.Patients {
		if strings.Contains(strings.ToLower(p.FirstName), needle) ||
			strings.Contains(strings.ToLower(p.LastName), needle) ||
			strings.Contains(strings.ToLower(p.ID), needle) ||
			strings.Contains(p.Phone, term) {
			out = append(out, p)
		}
	}
	return out
}

// UpdateCarePlanTask merges the patch into one task of a plan and
// recomputes the plan's progress. Returns the updated plan, or nil when
// either the plan or the task id is unknown (nothing is mutated then).
func (s *Store) UpdateCarePlanTask(planID, taskID string, patch map[string]any) *CarePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.planIdx[planID]
	if !ok {
		metrics.RecordStoreOp(CollectionCarePlans, false)
		return nil
	}
	plan := s.doc.CarePlans[idx].Clone()

	taskIdx := -1
	for i, t := range plan.Tasks {
		if t.ID == taskID {
			taskIdx = i
			break
		}
	}
	if taskIdx < 0 {
		metrics.RecordStoreOp(CollectionCarePlans, false)
		return nil
	}

	merged := plan.Tasks[taskIdx]
	if !mergePatch(&merged, patch, s.logger) {
		metrics.RecordStoreOp(CollectionCarePlans, false)
		return nil
	}
	merged.ID = taskID
	plan.Tasks[taskIdx] = merged
	plan.Progress = planProgress(plan.Tasks)

	s.doc.CarePlans[idx] = plan
	s.persistLocked()
	metrics.RecordStoreOp(CollectionCarePlans, true)
	s.audit("update-task", CollectionCarePlans, planID, patch)

	out := plan.Clone()
	return &out
}
