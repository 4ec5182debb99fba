package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/admitlog/internal/ir"
)

func TestLockKeys(t *testing.T) {
	tests := []struct {
		name    string
		event   ir.Event
		subject string
		keys    []string
	}{
		{
			name:    "movement",
			event:   admitAt("ENC-1", 10),
			subject: "ENC-1",
			keys:    []string{"pat:MRN-1", "enc:ENC-1"},
		},
		{
			name:    "merge",
			event:   ir.MergePatient{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(1)}, RetiredKey: "MRN-2"},
			subject: "MRN-1",
			keys:    []string{"pat:MRN-1", "pat:MRN-2"},
		},
		{
			name:    "identifier change",
			event:   ir.ChangePatientIdentifiers{Header: ir.Header{PatientKey: "MRN-9", EventTime: at(1)}, PreviousPatientKey: "MRN-1"},
			subject: "MRN-9",
			keys:    []string{"pat:MRN-9", "pat:MRN-1"},
		},
		{
			name:    "visit move",
			event:   ir.MoveVisitInformation{Header: ir.Header{PatientKey: "MRN-2", EncounterKey: "ENC-1", EventTime: at(1)}, PreviousPatientKey: "MRN-1"},
			subject: "MRN-2",
			keys:    []string{"pat:MRN-2", "pat:MRN-1", "enc:ENC-1"},
		},
		{
			name:    "demographics",
			event:   ir.UpdatePatientInfo{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(1)}},
			subject: "MRN-1",
			keys:    []string{"pat:MRN-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.subject, subjectKey(tt.event))
			assert.Equal(t, tt.keys, lockKeys(tt.event))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		event ir.Event
		want  string
	}{
		{"valid", admitAt("ENC-1", 10), ""},
		{"no patient", ir.Admit{Header: ir.Header{EncounterKey: "ENC-1", EventTime: at(1)}}, "missing patient key"},
		{"no time", ir.Admit{Header: ir.Header{PatientKey: "MRN-1", EncounterKey: "ENC-1"}}, "missing event time"},
		{"no encounter", ir.Transfer{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(1)}}, "missing encounter key"},
		{"no retired", ir.MergePatient{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(1)}}, "missing retired key"},
		{"no previous patient", ir.ChangePatientIdentifiers{Header: ir.Header{PatientKey: "MRN-9", EventTime: at(1)}}, "missing previous patient key"},
		{"move without encounter", ir.MoveVisitInformation{Header: ir.Header{PatientKey: "MRN-2", EventTime: at(1)}, PreviousPatientKey: "MRN-1"}, "missing encounter key"},
		{"move without previous patient", ir.MoveVisitInformation{Header: ir.Header{PatientKey: "MRN-2", EncounterKey: "ENC-1", EventTime: at(1)}}, "missing previous patient key"},
		{"ancillary needs no encounter", ir.PatientInfection{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(1)}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.event)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
