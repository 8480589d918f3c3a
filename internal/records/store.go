// Package records implements the clinic's operational record store: one
// JSON document holding every collection, held in memory behind typed
// accessors and mirrored to a key-value backend on a debounced schedule.
//
// The store has a single writer. Reads and mutations never fail at
// this surface: storage trouble is logged and degraded to an empty/nil
// result. Callers cannot distinguish "nothing matched" from "storage
// broken"; that is part of the contract.
package records

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"clinicore/internal/metrics"
	"go.uber.org/zap"
)

// sequenceCarePlanTasks keys the task id counter in Document.Sequences.
// Tasks are nested inside care plans, not a top-level collection.
const sequenceCarePlanTasks = "carePlanTasks"

// Auditor receives a notification for every successful mutation.
// Implementations must be best-effort; the store does not check errors.
type Auditor interface {
	Record(action, collection, recordID string, detail any)
}

// Options tunes store behavior.
type Options struct {
	// FlushDelay is how long a mutation may sit in memory before the
	// document is written to the backend. Zero writes through on every
	// mutation.
	FlushDelay time.Duration

	// Auditor, when non-nil, is notified of every mutation.
	Auditor Auditor
}

// Store is the in-process clinical record store.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	logger  *zap.Logger
	opts    Options

	doc        *Document
	patientIdx map[string]int // patient id -> position
	planIdx    map[string]int // care plan id -> position

	dirty      bool
	flushTimer *time.Timer
	closed     bool
}

// Open loads the document from the backend, migrating or seeding as
// needed, and returns a ready store. A backend read error or a corrupted
// blob both degrade to a fresh seed document (the corrupt case is
// destructive recovery and is logged loudly).
func Open(backend Backend, opts Options, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("records: nil backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		backend: backend,
		logger:  logger,
		opts:    opts,
	}

	raw, err := backend.Load()
	if err != nil {
		logger.Error("Failed to load record document, starting from seed",
			zap.Error(err))
		raw = nil
	}

	switch {
	case raw == nil:
		s.doc = seedDocument()
		s.dirty = true
	default:
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Error("Record document is corrupted, reseeding defaults (stored content discarded)",
				zap.Error(err), zap.Int("bytes", len(raw)))
			s.doc = seedDocument()
			s.dirty = true
		} else {
			s.doc = &doc
			if migrate(s.doc) {
				logger.Info("Upgraded record document",
					zap.Int("schema_version", s.doc.SchemaVersion))
				s.dirty = true
			}
		}
	}

	s.reindex()
	if s.dirty {
		s.mu.Lock()
		s.flushLocked()
		s.mu.Unlock()
	}
	return s, nil
}

// reindex rebuilds the id indexes from the document.
func (s *Store) reindex() {
	s.patientIdx = make(map[string]int, len(s.doc.Patients))
	for i, p := range s.doc.Patients {
		s.patientIdx[p.ID] = i
	}
	s.planIdx = make(map[string]int, len(s.doc.CarePlans))
	for i, p := range s.doc.CarePlans {
		s.planIdx[p.ID] = i
	}
}

// Flush writes the document to the backend if there are unsaved
// mutations.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Close flushes and closes the backend. The store must not be used
// afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.flushLocked()
	s.closed = true
	s.mu.Unlock()
	return s.backend.Close()
}

// flushLocked serializes and saves the document. Failures are logged
// and the document stays dirty so the next mutation retries.
func (s *Store) flushLocked() {
	if !s.dirty {
		return
	}
	raw, err := json.Marshal(s.doc)
	if err != nil {
		s.logger.Error("Failed to serialize record document", zap.Error(err))
		metrics.RecordFlush(false)
		return
	}
	if err := s.backend.Save(raw); err != nil {
		s.logger.Error("Failed to persist record document", zap.Error(err))
		metrics.RecordFlush(false)
		return
	}
	s.dirty = false
	metrics.RecordFlush(true)
}

// persistLocked marks the document dirty and either writes through or
// arms the debounce timer.
func (s *Store) persistLocked() {
	s.dirty = true
	if s.opts.FlushDelay <= 0 {
		s.flushLocked()
		return
	}
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.opts.FlushDelay, func() {
			s.mu.Lock()
			s.flushTimer = nil
			if !s.closed {
				s.flushLocked()
			}
			s.mu.Unlock()
		})
	}
}

// audit notifies the auditor of a successful mutation, if one is wired.
func (s *Store) audit(action, collection, recordID string, detail any) {
	if s.opts.Auditor != nil {
		s.opts.Auditor.Record(action, collection, recordID, detail)
	}
}

// ExportDocument returns the current document serialized as indented
// JSON, for snapshots and CLI export.
func (s *Store) ExportDocument() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.doc, "", "  ")
}

// Counts returns per-collection record counts, for status reporting.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		CollectionPatients:       len(s.doc.Patients),
		CollectionVitalSigns:     len(s.doc.VitalSigns),
		CollectionCarePlans:      len(s.doc.CarePlans),
		CollectionMedications:    len(s.doc.Medications),
		CollectionMedicalHistory: len(s.doc.MedicalHistory),
		CollectionLabResults:     len(s.doc.LabResults),
	}
}

// ==================== ID generation ====================

// nextPatientID scans existing patient ids for the highest numeric
// suffix and returns the next one, zero-padded. Malformed ids count as
// zero. Ids are never reused.
func (s *Store) nextPatientID() string {
	var max int64
	for _, p := range s.doc.Patients {
		if n := idSuffix(p.ID, "P"); n > max {
			max = n
		}
	}
	return fmt.Sprintf("P%03d", max+1)
}

// nextID returns prefix + the next value of the named sequence counter.
// Counters persist in the document, so ids stay unique across restarts
// without depending on wall-clock timing.
func (s *Store) nextID(sequence, prefix string) string {
	s.doc.Sequences[sequence]++
	return fmt.Sprintf("%s%d", prefix, s.doc.Sequences[sequence])
}

// ==================== Patients ====================

// Patients returns all patients in insertion order.
func (s *Store) Patients() []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patient, len(s.doc.Patients))
	copy(out, s.doc.Patients)
	return out
}

// PatientByID returns the patient, or nil when the id is unknown.
func (s *Store) PatientByID(id string) *Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.patientIdx[id]
	if !ok {
		return nil
	}
	p := s.doc.Patients[idx]
	return &p
}

// AddPatient registers a patient under a freshly assigned sequential id.
// Any id on the input is ignored. RegistrationDate defaults to today.
func (s *Store) AddPatient(p Patient) *Patient {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextPatientID()
	if p.RegistrationDate == "" {
		p.RegistrationDate = time.Now().Format(DateLayout)
	}
	s.doc.Patients = append(s.doc.Patients, p)
	s.patientIdx[p.ID] = len(s.doc.Patients) - 1
	s.persistLocked()
	metrics.RecordStoreOp(CollectionPatients, true)
	s.audit("add", CollectionPatients, p.ID, p)

	out := p
	return &out
}

// UpdatePatient shallow-merges the patch into the stored patient: patch
// fields overwrite, everything else is preserved, and the id is
// immutable. Returns nil without mutating anything when the id is
// unknown.
func (s *Store) UpdatePatient(id string, patch map[string]any) *Patient {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.patientIdx[id]
	if !ok {
		metrics.RecordStoreOp(CollectionPatients, false)
		return nil
	}
	merged := s.doc.Patients[idx]
	if !mergePatch(&merged, patch, s.logger) {
		metrics.RecordStoreOp(CollectionPatients, false)
		return nil
	}
	merged.ID = id
	s.doc.Patients[idx] = merged
	s.persistLocked()
	metrics.RecordStoreOp(CollectionPatients, true)
	s.audit("update", CollectionPatients, id, patch)

	out := merged
	return &out
}

// ==================== Vital signs ====================

// VitalSigns returns readings in insertion order, filtered to one
// patient when patientID is non-empty.
func (s *Store) VitalSigns(patientID string) []VitalSigns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []VitalSigns{}
	for _, v := range s.doc.VitalSigns {
		if patientID == "" || v.PatientID == patientID {
			out = append(out, v)
		}
	}
	return out
}

// AddVitalSigns appends a reading. Date and time default to the moment
// of the call. Readings are immutable once recorded.
func (s *Store) AddVitalSigns(v VitalSigns) *VitalSigns {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.ID = s.nextID(CollectionVitalSigns, "V")
	now := time.Now()
	if v.Date == "" {
		v.Date = now.Format(DateLayout)
	}
	if v.Time == "" {
		v.Time = now.Format(TimeLayout)
	}
	s.doc.VitalSigns = append(s.doc.VitalSigns, v)
	s.persistLocked()
	metrics.RecordStoreOp(CollectionVitalSigns, true)
	s.audit("add", CollectionVitalSigns, v.ID, v)

	out := v
	return &out
}

// ==================== Care plans ====================

// CarePlans returns plans in insertion order, filtered to one patient
// when patientID is non-empty.
func (s *Store) CarePlans(patientID string) []CarePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []CarePlan{}
	for _, p := range s.doc.CarePlans {
		if patientID == "" || p.PatientID == patientID {
			out = append(out, p.Clone())
		}
	}
	return out
}

// CarePlanByID returns one plan, nil when the id is unknown.
func (s *Store) CarePlanByID(id string) *CarePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.planIdx[id]
	if !ok {
		return nil
	}
	p := s.doc.CarePlans[idx].Clone()
	return &p
}

// AddCarePlan creates a plan. Status defaults to Active, tasks without
// ids get them, and progress is derived from the task list.
func (s *Store) AddCarePlan(p CarePlan) *CarePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = p.Clone()
	p.ID = s.nextID(CollectionCarePlans, "CP")
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Tasks == nil {
		p.Tasks = []CarePlanTask{}
	}
	for i := range p.Tasks {
		if p.Tasks[i].ID == "" {
			p.Tasks[i].ID = s.nextID(sequenceCarePlanTasks, "CPT")
		}
	}
	p.Progress = planProgress(p.Tasks)

	s.doc.CarePlans = append(s.doc.CarePlans, p)
	s.planIdx[p.ID] = len(s.doc.CarePlans) - 1
	s.persistLocked()
	metrics.RecordStoreOp(CollectionCarePlans, true)
	s.audit("add", CollectionCarePlans, p.ID, p)

	out := p.Clone()
	return &out
}

// UpdateCarePlan shallow-merges the patch into the plan. When the patch
// replaces the task list, new tasks get ids and progress is recomputed.
// Status transitions (Active to Completed) go through here; progress
// reaching 100 never completes a plan on its own.
func (s *Store) UpdateCarePlan(id string, patch map[string]any) *CarePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.planIdx[id]
	if !ok {
		metrics.RecordStoreOp(CollectionCarePlans, false)
		return nil
	}
	merged := s.doc.CarePlans[idx].Clone()
	if _, has := patch["tasks"]; has {
		// A patched task list replaces the old one wholesale. Decoding
		// into the existing slice would leave prior task fields inside
		// sparse patch elements.
		merged.Tasks = nil
	}
	if !mergePatch(&merged, patch, s.logger) {
		metrics.RecordStoreOp(CollectionCarePlans, false)
		return nil
	}
	merged.ID = id
	for i := range merged.Tasks {
		if merged.Tasks[i].ID == "" {
			merged.Tasks[i].ID = s.nextID(sequenceCarePlanTasks, "CPT")
		}
	}
	merged.Progress = planProgress(merged.Tasks)
	s.doc.CarePlans[idx] = merged
	s.persistLocked()
	metrics.RecordStoreOp(CollectionCarePlans, true)
	s.audit("update", CollectionCarePlans, id, patch)

	out := merged.Clone()
	return &out
}

// ==================== Medications ====================

// Medications returns prescriptions in insertion order, filtered to one
// patient when patientID is non-empty.
func (s *Store) Medications(patientID string) []Medication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Medication{}
	for _, m := range s.doc.Medications {
		if patientID == "" || m.PatientID == patientID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// AddMedication creates a prescription. Status defaults to Active.
func (s *Store) AddMedication(m Medication) *Medication {
	s.mu.Lock()
	defer s.mu.Unlock()

	m = m.Clone()
	m.ID = s.nextID(CollectionMedications, "M")
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.AdministeredBy == nil {
		m.AdministeredBy = []string{}
	}
	s.doc.Medications = append(s.doc.Medications, m)
	s.persistLocked()
	metrics.RecordStoreOp(CollectionMedications, true)
	s.audit("add", CollectionMedications, m.ID, m)

	out := m.Clone()
	return &out
}

// ==================== Medical history ====================

// MedicalHistory returns history entries in insertion order, filtered
// to one patient when patientID is non-empty.
func (s *Store) MedicalHistory(patientID string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []HistoryEntry{}
	for _, h := range s.doc.MedicalHistory {
		if patientID == "" || h.PatientID == patientID {
			out = append(out, h)
		}
	}
	return out
}

// AddMedicalHistory appends a history entry. Date defaults to today.
func (s *Store) AddMedicalHistory(h HistoryEntry) *HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.ID = s.nextID(CollectionMedicalHistory, "MH")
	if h.Date == "" {
		h.Date = time.Now().Format(DateLayout)
	}
	s.doc.MedicalHistory = append(s.doc.MedicalHistory, h)
	s.persistLocked()
	metrics.RecordStoreOp(CollectionMedicalHistory, true)
	s.audit("add", CollectionMedicalHistory, h.ID, h)

	out := h
	return &out
}

// ==================== Lab results ====================

// LabResults returns results in insertion order, filtered to one
// patient when patientID is non-empty.
func (s *Store) LabResults(patientID string) []LabResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []LabResult{}
	for _, l := range s.doc.LabResults {
		if patientID == "" || l.PatientID == patientID {
			out = append(out, l.Clone())
		}
	}
	return out
}

// AddLabResult records an ordered test. OrderDate defaults to today.
func (s *Store) AddLabResult(l LabResult) *LabResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	l = l.Clone()
	l.ID = s.nextID(CollectionLabResults, "LR")
	if l.OrderDate == "" {
		l.OrderDate = time.Now().Format(DateLayout)
	}
	if l.Results == nil {
		l.Results = map[string]string{}
	}
	s.doc.LabResults = append(s.doc.LabResults, l)
	s.persistLocked()
	metrics.RecordStoreOp(CollectionLabResults, true)
	s.audit("add", CollectionLabResults, l.ID, l)

	out := l.Clone()
	return &out
}

// ==================== Patch merging ====================

// mergePatch applies a shallow JSON merge: fields present in the patch
// overwrite the corresponding struct fields, everything else stays. The
// target must be a pointer to a copy; on failure nothing is written
// back and the caller treats the operation as a no-op.
func mergePatch(target any, patch map[string]any, logger *zap.Logger) bool {
	raw, err := json.Marshal(patch)
	if err != nil {
		logger.Error("Failed to encode record patch", zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		logger.Error("Failed to apply record patch", zap.Error(err))
		return false
	}
	return true
}
