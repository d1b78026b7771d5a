package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FHIRResult groups the simplified FHIR R4 resources produced from one
// extraction. Resources are plain JSON objects, not a validated R4 model.
type FHIRResult struct {
	Patient      map[string]any   `json:"patient"`
	Conditions   []map[string]any `json:"conditions"`
	Medications  []map[string]any `json:"medications"`
	Observations []map[string]any `json:"observations"`
}

const (
	icd10System       = "http://hl7.org/fhir/sid/icd-10-cm"
	rxnormSystem      = "http://www.nlm.nih.gov/research/umls/rxnorm"
	loincSystem       = "http://loinc.org"
	obsCategorySystem = "http://terminology.hl7.org/CodeSystem/observation-category"
)

// vitalLOINC maps vital sign accessors to LOINC codings.
var vitalLOINC = []struct {
	value   func(*VitalSigns) *string
	code    string
	display string
}{
	{func(v *VitalSigns) *string { return v.BloodPressure }, "85354-9", "Blood pressure panel"},
	{func(v *VitalSigns) *string { return v.HeartRate }, "8867-4", "Heart rate"},
	{func(v *VitalSigns) *string { return v.RespiratoryRate }, "9279-1", "Respiratory rate"},
	{func(v *VitalSigns) *string { return v.Temperature }, "8310-5", "Body temperature"},
	{func(v *VitalSigns) *string { return v.OxygenSaturation }, "2708-6", "Oxygen saturation"},
	{func(v *VitalSigns) *string { return v.Weight }, "29463-7", "Body weight"},
	{func(v *VitalSigns) *string { return v.Height }, "8302-2", "Body height"},
	{func(v *VitalSigns) *string { return v.BMI }, "39156-5", "Body mass index"},
}

// ConvertToFHIR maps structured clinical data onto simplified FHIR R4
// resources: Patient, Condition per diagnosis, MedicationRequest per
// medication, and Observation per vital sign and lab result.
func ConvertToFHIR(data StructuredClinicalData, patientID string) *FHIRResult {
	if patientID == "" {
		patientID = "unknown"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	subject := map[string]any{"reference": "Patient/" + patientID}

	result := &FHIRResult{
		Conditions:   []map[string]any{},
		Medications:  []map[string]any{},
		Observations: []map[string]any{},
	}

	result.Patient = patientResource(data.PatientInfo, patientID)

	for _, d := range data.Diagnoses {
		result.Conditions = append(result.Conditions, conditionResource(d, subject, now))
	}
	for _, m := range data.Medications {
		result.Medications = append(result.Medications, medicationRequestResource(m, subject, now))
	}
	if data.VitalSigns != nil {
		for _, v := range vitalLOINC {
			value := v.value(data.VitalSigns)
			if value == nil || *value == "" {
				continue
			}
			result.Observations = append(result.Observations,
				observationResource("vital-signs", *value, subject, now, map[string]any{
					"coding": []map[string]any{{"system": loincSystem, "code": v.code, "display": v.display}},
					"text":   v.display,
				}))
		}
	}
	for _, lab := range data.LabResults {
		result.Observations = append(result.Observations,
			observationResource("laboratory", lab, subject, now, map[string]any{"text": "Laboratory result"}))
	}

	return result
}

func patientResource(info *PatientInfo, patientID string) map[string]any {
	if info == nil || (info.Age == nil && info.Gender == nil) {
		return nil
	}
	patient := map[string]any{
		"resourceType": "Patient",
		"id":           patientID,
		"identifier": []map[string]any{
			{"system": "urn:oid:healthbench", "value": patientID},
		},
	}
	if info.Gender != nil {
		patient["gender"] = normalizeGender(*info.Gender)
	}
	if info.Age != nil {
		// birthDate is approximated from the stated age.
		if age, err := strconv.Atoi(strings.TrimSpace(*info.Age)); err == nil {
			patient["birthDate"] = fmt.Sprintf("%d-01-01", time.Now().Year()-age)
		}
	}
	return patient
}

func normalizeGender(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m":
		return "male"
	case "female", "f":
		return "female"
	default:
		return "unknown"
	}
}

func conditionResource(d DiagnosisCode, subject map[string]any, now string) map[string]any {
	code := map[string]any{"text": d.Text}
	if d.ICD10Code != nil {
		display := d.Text
		if d.ICD10Description != nil {
			display = *d.ICD10Description
		}
		code["coding"] = []map[string]any{
			{"system": icd10System, "code": *d.ICD10Code, "display": display},
		}
	}
	return map[string]any{
		"resourceType": "Condition",
		"clinicalStatus": map[string]any{
			"coding": []map[string]any{
				{"system": "http://terminology.hl7.org/CodeSystem/condition-clinical", "code": "active"},
			},
		},
		"verificationStatus": map[string]any{
			"coding": []map[string]any{
				{"system": "http://terminology.hl7.org/CodeSystem/condition-ver-status", "code": "confirmed"},
			},
		},
		"code":         code,
		"subject":      subject,
		"recordedDate": now,
	}
}

func medicationRequestResource(m MedicationCode, subject map[string]any, now string) map[string]any {
	concept := map[string]any{"text": m.Text}
	if m.RxNormCode != nil {
		display := m.Text
		if m.RxNormName != nil {
			display = *m.RxNormName
		}
		concept["coding"] = []map[string]any{
			{"system": rxnormSystem, "code": *m.RxNormCode, "display": display},
		}
	}
	return map[string]any{
		"resourceType": "MedicationRequest",
		"status":       "active",
		"intent":       "order",
		"medication":   map[string]any{"concept": concept},
		"subject":      subject,
		"authoredOn":   now,
	}
}

func observationResource(category, value string, subject map[string]any, now string, code map[string]any) map[string]any {
	return map[string]any{
		"resourceType": "Observation",
		"status":       "final",
		"category": []map[string]any{
			{"coding": []map[string]any{{"system": obsCategorySystem, "code": category}}},
		},
		"code":              code,
		"subject":           subject,
		"effectiveDateTime": now,
		"valueString":       value,
	}
}
