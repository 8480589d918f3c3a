package records

import (
	"strconv"
	"strings"
)

// schemaVersion is the version new documents are written at.
//
// v0: the legacy shape with no schemaVersion field; child record ids
//     were prefix + epoch-millisecond timestamps.
// v1: schemaVersion and per-collection sequence counters; new child ids
//     are prefix + counter, seeded above any legacy id suffix so old and
//     new ids never collide.
const schemaVersion = 1

// migrations upgrade a document from index version to index+1. A stored
// document older than schemaVersion is run through the chain in order;
// an already-current document passes through untouched.
var migrations = []func(*Document){
	migrateV0toV1,
}

// migrate normalizes collections and applies any pending upgrades.
// Returns true when the document changed and needs persisting.
func migrate(doc *Document) bool {
	changed := normalize(doc)
	for v := doc.SchemaVersion; v < schemaVersion; v++ {
		migrations[v](doc)
		doc.SchemaVersion = v + 1
		changed = true
	}
	return changed
}

// normalize guarantees every collection slice and the sequence map are
// non-nil, so accessors never have to check.
func normalize(doc *Document) bool {
	changed := false
	if doc.Sequences == nil {
		doc.Sequences = make(map[string]int64)
		changed = true
	}
	if doc.Patients == nil {
		doc.Patients = []Patient{}
		changed = true
	}
	if doc.VitalSigns == nil {
		doc.VitalSigns = []VitalSigns{}
		changed = true
	}
	if doc.CarePlans == nil {
		doc.CarePlans = []CarePlan{}
		changed = true
	}
	if doc.Medications == nil {
		doc.Medications = []Medication{}
		changed = true
	}
	if doc.MedicalHistory == nil {
		doc.MedicalHistory = []HistoryEntry{}
		changed = true
	}
	if doc.LabResults == nil {
		doc.LabResults = []LabResult{}
		changed = true
	}
	return changed
}

// migrateV0toV1 derives sequence counters from whatever ids already
// exist, including legacy timestamp suffixes, so freshly generated ids
// continue above them.
func migrateV0toV1(doc *Document) {
	seed := func(collection, prefix string, ids []string) {
		var max int64
		for _, id := range ids {
			n := idSuffix(id, prefix)
			if n > max {
				max = n
			}
		}
		if max > doc.Sequences[collection] {
			doc.Sequences[collection] = max
		}
	}

	vitals := make([]string, 0, len(doc.VitalSigns))
	for _, v := range doc.VitalSigns {
		vitals = append(vitals, v.ID)
	}
	seed(CollectionVitalSigns, "V", vitals)

	plans := make([]string, 0, len(doc.CarePlans))
	tasks := []string{}
	for _, p := range doc.CarePlans {
		plans = append(plans, p.ID)
		for _, t := range p.Tasks {
			tasks = append(tasks, t.ID)
		}
	}
	seed(CollectionCarePlans, "CP", plans)
	seed(sequenceCarePlanTasks, "CPT", tasks)

	meds := make([]string, 0, len(doc.Medications))
	for _, m := range doc.Medications {
		meds = append(meds, m.ID)
	}
	seed(CollectionMedications, "M", meds)

	hist := make([]string, 0, len(doc.MedicalHistory))
	for _, h := range doc.MedicalHistory {
		hist = append(hist, h.ID)
	}
	seed(CollectionMedicalHistory, "MH", hist)

	labs := make([]string, 0, len(doc.LabResults))
	for _, l := range doc.LabResults {
		labs = append(labs, l.ID)
	}
	seed(CollectionLabResults, "LR", labs)
}

// idSuffix parses the numeric part of a prefixed id. Malformed ids
// count as zero so a single bad record cannot break id generation.
func idSuffix(id, prefix string) int64 {
	if !strings.HasPrefix(id, prefix) {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, prefix), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
