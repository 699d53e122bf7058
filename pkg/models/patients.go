package models

// PatientIDs returns the patients a workflow targets without mutating it.
// Precedence: patients_ids, then legacy patient_ids, then legacy patient_id.
// The result is never nil.
func PatientIDs(w *Workflow) []string {
	if w == nil {
		return []string{}
	}

	switch {
	case len(w.PatientsIDs) > 0:
		return append([]string(nil), w.PatientsIDs...)
	case len(w.PatientIDs) > 0:
		return append([]string(nil), w.PatientIDs...)
	case w.PatientID != "":
		return []string{w.PatientID}
	default:
		return []string{}
	}
}

// NormalizePatientAssociation folds the legacy patient fields into the
// canonical PatientsIDs list and clears them. It is idempotent and is
// applied wherever workflow data enters or leaves the core.
func NormalizePatientAssociation(w *Workflow) *Workflow {
	if w == nil {
		return nil
	}

	w.PatientsIDs = PatientIDs(w)
	w.PatientIDs = nil
	w.PatientID = ""

	return w
}

// IsMultiPatientWorkflow reports whether the workflow targets more than one patient.
func IsMultiPatientWorkflow(w *Workflow) bool {
	return len(PatientIDs(w)) > 1
}
