package records

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	backend := NewMemoryBackend()
	st, err := Open(backend, Options{}, zap.NewNop())
	require.NoError(t, err)
	return st, backend
}

func TestOpen_SeedsOnFirstRun(t *testing.T) {
	st, backend := newTestStore(t)
	defer st.Close()

	patients := st.Patients()
	require.Len(t, patients, 2)
	assert.Equal(t, "P001", patients[0].ID)
	assert.Equal(t, "P002", patients[1].ID)

	// The seed is written through immediately.
	raw, err := backend.Load()
	require.NoError(t, err)
	require.NotNil(t, raw)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, schemaVersion, doc.SchemaVersion)
	assert.Len(t, doc.Patients, 2)
}

func TestOpen_RoundTrip(t *testing.T) {
	backend := NewMemoryBackend()

	st, err := Open(backend, Options{}, zap.NewNop())
	require.NoError(t, err)

	added := st.AddPatient(Patient{FirstName: "Rosa", LastName: "Delgado"})
	st.AddVitalSigns(VitalSigns{PatientID: added.ID, Temperature: "99.0°F"})
	require.NoError(t, st.Close())

	// A second store over the same backend sees everything.
	st2, err := Open(backend, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer st2.Close()

	got := st2.PatientByID(added.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Rosa", got.FirstName)

	vitals := st2.VitalSigns(added.ID)
	require.Len(t, vitals, 1)
	assert.Equal(t, "99.0°F", vitals[0].Temperature)
}

func TestOpen_CorruptedDocumentReseeds(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save([]byte("{not json")))

	st, err := Open(backend, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	patients := st.Patients()
	require.Len(t, patients, 2)
	assert.Equal(t, "P001", patients[0].ID)
}

func TestAddPatient_SequentialIDs(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	// Seed holds P001 and P002.
	p3 := st.AddPatient(Patient{FirstName: "Ana"})
	p4 := st.AddPatient(Patient{FirstName: "Ben"})
	assert.Equal(t, "P003", p3.ID)
	assert.Equal(t, "P004", p4.ID)
}

func TestAddPatient_IgnoresCallerID(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	p := st.AddPatient(Patient{ID: "P999", FirstName: "Ana"})
	assert.Equal(t, "P003", p.ID)
}

func TestAddPatient_DefaultsRegistrationDate(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	p := st.AddPatient(Patient{FirstName: "Ana"})
	assert.Equal(t, time.Now().Format(DateLayout), p.RegistrationDate)
}

func TestUpdatePatient_ShallowMerge(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	updated := st.UpdatePatient("P001", map[string]any{
		"phone":     "555-0199",
		"lastVisit": "2026-08-30",
	})
	require.NotNil(t, updated)
	assert.Equal(t, "555-0199", updated.Phone)
	assert.Equal(t, "2026-08-30", updated.LastVisit)
	// Untouched fields survive.
	assert.Equal(t, "Likitha", updated.FirstName)
	assert.Equal(t, "Nancy Oduya", updated.AssignedNurse)
}

func TestUpdatePatient_IDImmutable(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	updated := st.UpdatePatient("P001", map[string]any{"id": "P777"})
	require.NotNil(t, updated)
	assert.Equal(t, "P001", updated.ID)
	assert.NotNil(t, st.PatientByID("P001"))
	assert.Nil(t, st.PatientByID("P777"))
}

func TestUpdatePatient_UnknownIDDoesNotMutate(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	before := st.Patients()
	assert.Nil(t, st.UpdatePatient("P404", map[string]any{"phone": "x"}))
	assert.Equal(t, before, st.Patients())
}

func TestAddVitalSigns_DefaultsClinicalTime(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	v := st.AddVitalSigns(VitalSigns{PatientID: "P001", Temperature: "98.6°F"})
	assert.Equal(t, "V2", v.ID)
	assert.Equal(t, time.Now().Format(DateLayout), v.Date)
	assert.NotEmpty(t, v.Time)
}

func TestVitalSigns_FilterByPatient(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	st.AddVitalSigns(VitalSigns{PatientID: "P002", Temperature: "98.2°F"})

	assert.Len(t, st.VitalSigns(""), 2)
	assert.Len(t, st.VitalSigns("P001"), 1)
	assert.Len(t, st.VitalSigns("P002"), 1)
	assert.Empty(t, st.VitalSigns("P404"))
}

func TestAddCarePlan_Defaults(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	plan := st.AddCarePlan(CarePlan{
		PatientID: "P002",
		PlanType:  "Post-op rehabilitation",
		Tasks: []CarePlanTask{
			{Task: "Physio session", Completed: true},
			{Task: "Wound check"},
		},
	})

	assert.Equal(t, "CP2", plan.ID)
	assert.Equal(t, StatusActive, plan.Status)
	assert.Equal(t, 50, plan.Progress)
	// Task ids continue the shared counter past the seed's CPT2.
	assert.Equal(t, "CPT3", plan.Tasks[0].ID)
	assert.Equal(t, "CPT4", plan.Tasks[1].ID)
}

func TestUpdateCarePlan_RecomputesProgress(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	updated := st.UpdateCarePlan("CP1", map[string]any{
		"tasks": []map[string]any{
			{"id": "CPT1", "task": "Daily glucose monitoring", "completed": true},
			{"id": "CPT2", "task": "Dietitian consultation", "completed": true},
		},
	})
	require.NotNil(t, updated)
	assert.Equal(t, 100, updated.Progress)
	// Full progress does not complete the plan by itself.
	assert.Equal(t, StatusActive, updated.Status)
}

func TestUpdateCarePlan_ReplacesTaskList(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	// A sparse task element must come out fresh, not inherit the id
	// or text of the seed task it happens to line up with.
	updated := st.UpdateCarePlan("CP1", map[string]any{
		"tasks": []map[string]any{
			{"task": "Renal panel follow-up", "completed": true},
		},
	})
	require.NotNil(t, updated)
	require.Len(t, updated.Tasks, 1)
	assert.Equal(t, "CPT3", updated.Tasks[0].ID)
	assert.Equal(t, "Renal panel follow-up", updated.Tasks[0].Task)
	assert.True(t, updated.Tasks[0].Completed)
	assert.Equal(t, 100, updated.Progress)
}

func TestUpdateCarePlan_StatusTransition(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	updated := st.UpdateCarePlan("CP1", map[string]any{"status": StatusCompleted})
	require.NotNil(t, updated)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestUpdateCarePlan_UnknownID(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	assert.Nil(t, st.UpdateCarePlan("CP404", map[string]any{"status": StatusCompleted}))
}

func TestAddMedication_Defaults(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	m := st.AddMedication(Medication{
		PatientID:      "P002",
		MedicationName: "Ibuprofen",
		Dosage:         "400mg",
	})
	assert.Equal(t, "M2", m.ID)
	assert.Equal(t, StatusActive, m.Status)
	assert.NotNil(t, m.AdministeredBy)
}

func TestAddMedicalHistory_DefaultsDate(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	h := st.AddMedicalHistory(HistoryEntry{PatientID: "P002", Diagnosis: "Checkup"})
	assert.Equal(t, "MH2", h.ID)
	assert.Equal(t, time.Now().Format(DateLayout), h.Date)
}

func TestAddLabResult_Defaults(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	l := st.AddLabResult(LabResult{PatientID: "P002", TestType: "CBC"})
	assert.Equal(t, "LR2", l.ID)
	assert.Equal(t, time.Now().Format(DateLayout), l.OrderDate)
	assert.NotNil(t, l.Results)
}

func TestDebouncedFlush(t *testing.T) {
	backend := NewMemoryBackend()
	st, err := Open(backend, Options{FlushDelay: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	// Snapshot the backend state after the initial seed flush.
	seeded, err := backend.Load()
	require.NoError(t, err)

	st.AddPatient(Patient{FirstName: "Ana"})

	// Immediately after the mutation the backend still holds the old blob.
	raw, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, seeded, raw)

	// After the delay the mutation lands.
	assert.Eventually(t, func() bool {
		raw, err := backend.Load()
		if err != nil {
			return false
		}
		var doc Document
		if json.Unmarshal(raw, &doc) != nil {
			return false
		}
		return len(doc.Patients) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestClose_FlushesPendingWrites(t *testing.T) {
	backend := NewMemoryBackend()
	st, err := Open(backend, Options{FlushDelay: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	st.AddPatient(Patient{FirstName: "Ana"})
	require.NoError(t, st.Close())

	raw, err := backend.Load()
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Patients, 3)
}

func TestCounts(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	counts := st.Counts()
	assert.Equal(t, 2, counts[CollectionPatients])
	assert.Equal(t, 1, counts[CollectionVitalSigns])
	assert.Equal(t, 1, counts[CollectionCarePlans])
	assert.Equal(t, 1, counts[CollectionMedications])
	assert.Equal(t, 1, counts[CollectionMedicalHistory])
	assert.Equal(t, 1, counts[CollectionLabResults])
}

func TestExportDocument(t *testing.T) {
	st, _ := newTestStore(t)
	defer st.Close()

	raw, err := st.ExportDocument()
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, schemaVersion, doc.SchemaVersion)
	assert.Len(t, doc.Patients, 2)
}

type captureAuditor struct {
	actions []string
	ids     []string
}

func (c *captureAuditor) Record(action, collection, recordID string, detail any) {
	c.actions = append(c.actions, action+":"+collection)
	c.ids = append(c.ids, recordID)
}

func TestMutationsNotifyAuditor(t *testing.T) {
	backend := NewMemoryBackend()
	auditor := &captureAuditor{}
	st, err := Open(backend, Options{Auditor: auditor}, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	p := st.AddPatient(Patient{FirstName: "Ana"})
	st.UpdatePatient(p.ID, map[string]any{"phone": "555-0100"})
	st.UpdatePatient("P404", map[string]any{"phone": "x"})

	require.Equal(t, []string{"add:patients", "update:patients"}, auditor.actions)
	assert.Equal(t, []string{p.ID, p.ID}, auditor.ids)
}
