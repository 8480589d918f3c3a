package records

// Collection names as they appear in the persisted document.
const (
	CollectionPatients       = "patients"
	CollectionVitalSigns     = "vitalSigns"
	CollectionCarePlans      = "carePlans"
	CollectionMedications    = "medications"
	CollectionMedicalHistory = "medicalHistory"
	CollectionLabResults     = "labResults"
)

// Status values shared by care plans and medications.
const (
	StatusActive    = "Active"
	StatusCompleted = "Completed"
	StatusOnHold    = "On Hold"
	StatusCancelled = "Cancelled"
)

// Care plan priorities.
const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

// Date and time layouts used by clinical fields. Values are stored as
// strings because the dashboard forms submit them that way.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Patient is the root entity; every other record points back at one
// through PatientID. IDs are sequential ("P001", "P002", ...) and
// immutable once assigned.
type Patient struct {
	ID               string `json:"id"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Age              int    `json:"age"`
	Gender           string `json:"gender"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergencyContact"`
	Condition        string `json:"condition"`
	AssignedNurse    string `json:"assignedNurse"`
	AssignedDoctor   string `json:"assignedDoctor"`
	RegistrationDate string `json:"registrationDate"`
	LastVisit        string `json:"lastVisit"`
}

// VitalSigns is an append-only reading. Measurements keep the unit the
// form submitted ("99.0°F", "80 bpm") so they round-trip unchanged.
type VitalSigns struct {
	ID               string `json:"id"`
	PatientID        string `json:"patientId"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Temperature      string `json:"temperature"`
	HeartRate        string `json:"heartRate"`
	BloodPressure    string `json:"bloodPressure"`
	RespiratoryRate  string `json:"respiratoryRate"`
	OxygenSaturation string `json:"oxygenSaturation"`
	Weight           string `json:"weight"`
	Height           string `json:"height"`
	Notes            string `json:"notes"`
	RecordedBy       string `json:"recordedBy"`
}

// CarePlanTask is one item on a care plan's checklist.
type CarePlanTask struct {
	ID            string `json:"id"`
	Task          string `json:"task"`
	Completed     bool   `json:"completed"`
	DueDate       string `json:"dueDate,omitempty"`
	CompletedDate string `json:"completedDate,omitempty"`
	CompletedBy   string `json:"completedBy,omitempty"`
}

// CarePlan tracks a treatment plan and its task checklist. Progress is
// derived from the tasks and recomputed on every task change; status is
// never advanced automatically, even at 100% progress.
type CarePlan struct {
	ID        string         `json:"id"`
	PatientID string         `json:"patientId"`
	PlanType  string         `json:"planType"`
	StartDate string         `json:"startDate"`
	EndDate   string         `json:"endDate"`
	Priority  string         `json:"priority"`
	Status    string         `json:"status"`
	Progress  int            `json:"progress"`
	CreatedBy string         `json:"createdBy"`
	Tasks     []CarePlanTask `json:"tasks"`
}

// Medication is a prescription. AdministeredBy grows append-only as
// nurses record administrations.
type Medication struct {
	ID             string   `json:"id"`
	PatientID      string   `json:"patientId"`
	MedicationName string   `json:"medicationName"`
	Dosage         string   `json:"dosage"`
	Frequency      string   `json:"frequency"`
	Route          string   `json:"route"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	PrescribedBy   string   `json:"prescribedBy"`
	AdministeredBy []string `json:"administeredBy"`
	Instructions   string   `json:"instructions"`
	Status         string   `json:"status"`
}

// HistoryEntry is an append-only medical history record.
type HistoryEntry struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Date      string `json:"date"`
	Type      string `json:"type"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	Doctor    string `json:"doctor"`
	Notes     string `json:"notes"`
}

// LabResult holds an ordered test and its named result values.
type LabResult struct {
	ID         string            `json:"id"`
	PatientID  string            `json:"patientId"`
	TestType   string            `json:"testType"`
	OrderDate  string            `json:"orderDate"`
	ResultDate string            `json:"resultDate"`
	Status     string            `json:"status"`
	Results    map[string]string `json:"results"`
	OrderedBy  string            `json:"orderedBy"`
	Technician string            `json:"technician"`
}

// Document is the whole persisted state: one JSON blob under one key.
// SchemaVersion and Sequences were added in v1; older documents are
// upgraded on open rather than reseeded.
type Document struct {
	SchemaVersion  int              `json:"schemaVersion"`
	Sequences      map[string]int64 `json:"sequences"`
	Patients       []Patient        `json:"patients"`
	VitalSigns     []VitalSigns     `json:"vitalSigns"`
	CarePlans      []CarePlan       `json:"carePlans"`
	Medications    []Medication     `json:"medications"`
	MedicalHistory []HistoryEntry   `json:"medicalHistory"`
	LabResults     []LabResult      `json:"labResults"`
}

// PatientSummary is the cross-entity read-only projection served to
// patient detail views.
type PatientSummary struct {
	Patient            Patient        `json:"patient"`
	LatestVitals       *VitalSigns    `json:"latestVitals"`
	ActiveCarePlans    []CarePlan     `json:"activeCarePlans"`
	CurrentMedications []Medication   `json:"currentMedications"`
	RecentHistory      []HistoryEntry `json:"recentHistory"`
}

// Clone returns a deep copy so callers can hand records out without
// aliasing store-internal state.
func (p CarePlan) Clone() CarePlan {
	out := p
	if p.Tasks != nil {
		out.Tasks = make([]CarePlanTask, len(p.Tasks))
		copy(out.Tasks, p.Tasks)
	}
	return out
}

// Clone returns a deep copy of the medication.
func (m Medication) Clone() Medication {
	out := m
	if m.AdministeredBy != nil {
		out.AdministeredBy = make([]string, len(m.AdministeredBy))
		copy(out.AdministeredBy, m.AdministeredBy)
	}
	return out
}

// Clone returns a deep copy of the lab result.
func (l LabResult) Clone() LabResult {
	out := l
	if l.Results != nil {
		out.Results = make(map[string]string, len(l.Results))
		for k, v := range l.Results {
			out.Results[k] = v
		}
	}
	return out
}
