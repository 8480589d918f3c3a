package records

// seedDocument builds the default document written on first run (or
// after destructive recovery from a corrupted blob). Two patients, so
// the first registration through the dashboard becomes P003.
func seedDocument() *Document {
	doc := &Document{
		SchemaVersion: schemaVersion,
		Sequences:     make(map[string]int64),
		Patients: []Patient{
			{
				ID:               "P001",
				FirstName:        "Likitha",
				LastName:         "Narayan",
				Age:              67,
				Gender:           "Female",
				Phone:            "555-0134",
				Email:            "likitha.narayan@example.com",
				Address:          "12 Maple Court, Dover",
				EmergencyContact: "Ravi Narayan 555-0135",
				Condition:        "Type 2 diabetes, hypertension",
				AssignedNurse:    "Nancy Oduya",
				AssignedDoctor:   "Dr. Elaine Fox",
				RegistrationDate: "2025-11-03",
				LastVisit:        "2026-08-12",
			},
			{
				ID:               "P002",
				FirstName:        "Marcus",
				LastName:         "Webb",
				Age:              54,
				Gender:           "Male",
				Phone:            "555-0178",
				Email:            "marcus.webb@example.com",
				Address:          "89 Birch Lane, Dover",
				EmergencyContact: "Joan Webb 555-0179",
				Condition:        "Post-operative knee replacement",
				AssignedNurse:    "Tomás Rivera",
				AssignedDoctor:   "Dr. Samuel Adeyemi",
				RegistrationDate: "2026-01-21",
				LastVisit:        "2026-08-20",
			},
		},
		VitalSigns: []VitalSigns{
			{
				ID:               "V1",
				PatientID:        "P001",
				Date:             "2026-08-12",
				Time:             "09:15",
				Temperature:      "98.4°F",
				HeartRate:        "76 bpm",
				BloodPressure:    "138/86",
				RespiratoryRate:  "16/min",
				OxygenSaturation: "97%",
				Weight:           "68 kg",
				Height:           "158 cm",
				RecordedBy:       "Nancy Oduya",
			},
		},
		CarePlans: []CarePlan{
			{
				ID:        "CP1",
				PatientID: "P001",
				PlanType:  "Chronic disease management",
				StartDate: "2026-06-01",
				EndDate:   "2026-12-01",
				Priority:  PriorityHigh,
				Status:    StatusActive,
				Progress:  50,
				CreatedBy: "Dr. Elaine Fox",
				Tasks: []CarePlanTask{
					{ID: "CPT1", Task: "Daily glucose monitoring", Completed: true, CompletedDate: "2026-08-10", CompletedBy: "Nancy Oduya"},
					{ID: "CPT2", Task: "Dietitian consultation", DueDate: "2026-09-15"},
				},
			},
		},
		Medications: []Medication{
			{
				ID:             "M1",
				PatientID:      "P001",
				MedicationName: "Metformin",
				Dosage:         "500mg",
				Frequency:      "Twice daily",
				Route:          "Oral",
				StartDate:      "2025-11-10",
				PrescribedBy:   "Dr. Elaine Fox",
				AdministeredBy: []string{},
				Instructions:   "Take with meals",
				Status:         StatusActive,
			},
		},
		MedicalHistory: []HistoryEntry{
			{
				ID:        "MH1",
				PatientID: "P001",
				Date:      "2025-11-03",
				Type:      "Diagnosis",
				Diagnosis: "Type 2 diabetes mellitus",
				Treatment: "Metformin, lifestyle counselling",
				Doctor:    "Dr. Elaine Fox",
			},
		},
		LabResults: []LabResult{
			{
				ID:         "LR1",
				PatientID:  "P001",
				TestType:   "HbA1c",
				OrderDate:  "2026-08-01",
				ResultDate: "2026-08-04",
				Status:     "Completed",
				Results:    map[string]string{"HbA1c": "7.2%"},
				OrderedBy:  "Dr. Elaine Fox",
				Technician: "Priya Shah",
			},
		},
	}

	doc.Sequences[CollectionVitalSigns] = 1
	doc.Sequences[CollectionCarePlans] = 1
	doc.Sequences[sequenceCarePlanTasks] = 2
	doc.Sequences[CollectionMedications] = 1
	doc.Sequences[CollectionMedicalHistory] = 1
	doc.Sequences[CollectionLabResults] = 1
	return doc
}
