package records

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrate_CurrentDocumentUntouched(t *testing.T) {
	doc := seedDocument()
	assert.False(t, migrate(doc))
	assert.Equal(t, schemaVersion, doc.SchemaVersion)
}

func TestMigrate_NormalizesNilCollections(t *testing.T) {
	doc := &Document{SchemaVersion: schemaVersion}
	assert.True(t, migrate(doc))

	assert.NotNil(t, doc.Sequences)
	assert.NotNil(t, doc.Patients)
	assert.NotNil(t, doc.VitalSigns)
	assert.NotNil(t, doc.CarePlans)
	assert.NotNil(t, doc.Medications)
	assert.NotNil(t, doc.MedicalHistory)
	assert.NotNil(t, doc.LabResults)
}

func TestMigrate_V0SeedsSequencesFromLegacyIDs(t *testing.T) {
	// A v0 document: no schemaVersion field, timestamp-suffixed ids.
	doc := &Document{
		Patients: []Patient{{ID: "P001"}, {ID: "P002"}},
		VitalSigns: []VitalSigns{
			{ID: "V1755597300000", PatientID: "P001"},
		},
		CarePlans: []CarePlan{
			{ID: "CP1755597400000", PatientID: "P001", Tasks: []CarePlanTask{
				{ID: "CPT1755597400001"},
			}},
		},
		Medications:    []Medication{{ID: "M3", PatientID: "P001"}},
		MedicalHistory: []HistoryEntry{{ID: "MH7", PatientID: "P001"}},
		LabResults:     []LabResult{{ID: "LR2", PatientID: "P001"}},
	}

	require.True(t, migrate(doc))
	assert.Equal(t, schemaVersion, doc.SchemaVersion)

	// Counters continue above the highest existing suffix, so new ids
	// never collide with legacy ones.
	assert.Equal(t, int64(1755597300000), doc.Sequences[CollectionVitalSigns])
	assert.Equal(t, int64(1755597400000), doc.Sequences[CollectionCarePlans])
	assert.Equal(t, int64(1755597400001), doc.Sequences[sequenceCarePlanTasks])
	assert.Equal(t, int64(3), doc.Sequences[CollectionMedications])
	assert.Equal(t, int64(7), doc.Sequences[CollectionMedicalHistory])
	assert.Equal(t, int64(2), doc.Sequences[CollectionLabResults])
}

func TestMigrate_V0DocumentThroughStore(t *testing.T) {
	legacy := Document{
		Patients:    []Patient{{ID: "P001", FirstName: "Likitha"}},
		VitalSigns:  []VitalSigns{{ID: "V1755597300000", PatientID: "P001"}},
		Medications: []Medication{{ID: "M1755597300001", PatientID: "P001", Status: StatusActive}},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(raw))

	st, err := Open(backend, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	// Stored records survive the upgrade; the document is not reseeded.
	require.Len(t, st.Patients(), 1)
	assert.Equal(t, "Likitha", st.Patients()[0].FirstName)

	// New ids continue past the legacy timestamp suffix.
	v := st.AddVitalSigns(VitalSigns{PatientID: "P001"})
	assert.Equal(t, "V1755597300001", v.ID)

	// The upgraded document was flushed with its new version.
	saved, err := backend.Load()
	require.NoError(t, err)
	var upgraded Document
	require.NoError(t, json.Unmarshal(saved, &upgraded))
	assert.Equal(t, schemaVersion, upgraded.SchemaVersion)
}

func TestIDSuffix(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
		want   int64
	}{
		{"P001", "P", 1},
		{"P042", "P", 42},
		{"V1755597300000", "V", 1755597300000},
		{"CPT9", "CPT", 9},
		{"CPT9", "CP", 0}, // T9 is not numeric
		{"X9", "P", 0},
		{"P", "P", 0},
		{"Pabc", "P", 0},
		{"P-5", "P", 0},
		{"", "P", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, idSuffix(tt.id, tt.prefix), "idSuffix(%q, %q)", tt.id, tt.prefix)
	}
}
