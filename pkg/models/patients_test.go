package models

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatientIDs(t *testing.T) {
	tests := []struct {
		name     string
		workflow *Workflow
		expected []string
	}{
		{
			name:     "nil workflow",
			workflow: nil,
			expected: []string{},
		},
		{
			name:     "no patient fields",
			workflow: &Workflow{Name: "empty"},
			expected: []string{},
		},
		{
			name:     "legacy single patient",
			workflow: &Workflow{PatientID: "p1"},
			expected: []string{"p1"},
		},
		{
			name:     "legacy alternate list",
			workflow: &Workflow{PatientIDs: []string{"p1", "p2"}, PatientID: "p9"},
			expected: []string{"p1", "p2"},
		},
		{
			name:     "canonical list wins",
			workflow: &Workflow{PatientsIDs: []string{"a"}, PatientIDs: []string{"b"}, PatientID: "c"},
			expected: []string{"a"},
		},
		{
			name:     "empty canonical list falls through",
			workflow: &Workflow{PatientsIDs: []string{}, PatientID: "c"},
			expected: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := PatientIDs(tt.workflow)
			assert.NotNil(t, ids)
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestPatientIDs_DoesNotMutate(t *testing.T) {
	workflow := &Workflow{PatientID: "p1"}

	ids := PatientIDs(workflow)
	ids[0] = "changed"

	assert.Nil(t, workflow.PatientsIDs)
	assert.Equal(t, "p1", workflow.PatientID)
}

func TestNormalizePatientAssociation(t *testing.T) {
	workflow := NormalizePatientAssociation(&Workflow{PatientIDs: []string{"p1", "p2"}})

	assert.Equal(t, []string{"p1", "p2"}, workflow.PatientsIDs)
	assert.Nil(t, workflow.PatientIDs)
	assert.Empty(t, workflow.PatientID)
}

func TestNormalizePatientAssociation_Idempotent(t *testing.T) {
	inputs := []*Workflow{
		{},
		{PatientID: "p1"},
		{PatientIDs: []string{"p1", "p2"}},
		{PatientsIDs: []string{"p3"}, PatientID: "p1"},
	}

	for _, input := range inputs {
		once := NormalizePatientAssociation(input)
		snapshot := *once
		snapshot.PatientsIDs = slices.Clone(once.PatientsIDs)

		twice := NormalizePatientAssociation(once)

		assert.Equal(t, snapshot.PatientsIDs, twice.PatientsIDs)
		assert.Equal(t, snapshot.PatientIDs, twice.PatientIDs)
		assert.Equal(t, snapshot.PatientID, twice.PatientID)
	}

	assert.Nil(t, NormalizePatientAssociation(nil))
}

func TestIsMultiPatientWorkflow(t *testing.T) {
	assert.False(t, IsMultiPatientWorkflow(&Workflow{}))
	assert.False(t, IsMultiPatientWorkflow(&Workflow{PatientID: "p1"}))
	assert.True(t, IsMultiPatientWorkflow(&Workflow{PatientIDs: []string{"p1", "p2"}}))
	assert.True(t, IsMultiPatientWorkflow(&Workflow{PatientsIDs: []string{"p1", "p2", "p3"}}))
}
