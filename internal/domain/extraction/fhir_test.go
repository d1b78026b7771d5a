package extraction

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestConvertToFHIR(t *testing.T) {
	data := StructuredClinicalData{
		PatientInfo: &PatientInfo{Age: strPtr("45"), Gender: strPtr("M")},
		Diagnoses: []DiagnosisCode{
			{Text: "type 2 diabetes", ICD10Code: strPtr("E11.9"), ICD10Description: strPtr("Type 2 diabetes mellitus without complications"), Confidence: ConfidenceExact},
		},
		Medications: []MedicationCode{
			{Text: "metformin 500mg", RxNormCode: strPtr("861007"), RxNormName: strPtr("metformin hydrochloride 500 MG"), Confidence: ConfidenceExact},
		},
		VitalSigns:  &VitalSigns{BloodPressure: strPtr("130/85"), HeartRate: strPtr("72")},
		LabResults:  []string{"A1c 7.2%"},
		PlanActions: []string{"continue metformin"},
	}

	result := ConvertToFHIR(data, "patient-1")

	if result.Patient == nil {
		t.Fatal("expected patient resource")
	}
	if result.Patient["gender"] != "male" {
		t.Errorf("gender 'M' must normalize to male, got %v", result.Patient["gender"])
	}
	if result.Patient["birthDate"] == nil {
		t.Error("expected birthDate derived from age")
	}

	if len(result.Conditions) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(result.Conditions))
	}
	cond := result.Conditions[0]
	if cond["resourceType"] != "Condition" {
		t.Errorf("unexpected resourceType: %v", cond["resourceType"])
	}
	code := cond["code"].(map[string]any)
	coding := code["coding"].([]map[string]any)
	if coding[0]["system"] != icd10System || coding[0]["code"] != "E11.9" {
		t.Errorf("unexpected condition coding: %v", coding[0])
	}
	subject := cond["subject"].(map[string]any)
	if subject["reference"] != "Patient/patient-1" {
		t.Errorf("unexpected subject: %v", subject)
	}

	if len(result.Medications) != 1 {
		t.Fatalf("expected 1 medication request, got %d", len(result.Medications))
	}
	med := result.Medications[0]
	concept := med["medication"].(map[string]any)["concept"].(map[string]any)
	medCoding := concept["coding"].([]map[string]any)
	if medCoding[0]["system"] != rxnormSystem || medCoding[0]["code"] != "861007" {
		t.Errorf("unexpected medication coding: %v", medCoding[0])
	}

	// 2 vitals + 1 lab.
	if len(result.Observations) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(result.Observations))
	}
	labs := 0
	for _, obs := range result.Observations {
		cat := obs["category"].([]map[string]any)[0]["coding"].([]map[string]any)[0]["code"]
		if cat == "laboratory" {
			labs++
			if obs["valueString"] != "A1c 7.2%" {
				t.Errorf("unexpected lab value: %v", obs["valueString"])
			}
		}
	}
	if labs != 1 {
		t.Errorf("expected 1 laboratory observation, got %d", labs)
	}
}

func TestConvertToFHIR_UncodedEntities(t *testing.T) {
	data := StructuredClinicalData{
		Diagnoses:   []DiagnosisCode{{Text: "feeling off", Confidence: ConfidenceNone}},
		Medications: []MedicationCode{{Text: "herbal tea", Confidence: ConfidenceNone}},
	}

	result := ConvertToFHIR(data, "")

	if result.Patient != nil {
		t.Error("no patient info must mean no patient resource")
	}
	cond := result.Conditions[0]
	code := cond["code"].(map[string]any)
	if _, ok := code["coding"]; ok {
		t.Error("uncoded diagnosis must have no coding array")
	}
	if code["text"] != "feeling off" {
		t.Errorf("text must carry through: %v", code["text"])
	}
	subject := cond["subject"].(map[string]any)
	if subject["reference"] != "Patient/unknown" {
		t.Errorf("empty patient id must default to unknown, got %v", subject["reference"])
	}
}

func TestConvertToFHIR_EmptyData(t *testing.T) {
	result := ConvertToFHIR(StructuredClinicalData{}, "p1")
	if result.Conditions == nil || result.Medications == nil || result.Observations == nil {
		t.Error("resource lists must be non-nil even when empty")
	}
	if len(result.Conditions)+len(result.Medications)+len(result.Observations) != 0 {
		t.Error("expected no resources for empty data")
	}
}

func TestNormalizeGender(t *testing.T) {
	cases := map[string]string{
		"male": "male", "M": "male", "Female": "female", "f": "female", "nonbinary": "unknown",
	}
	for in, want := range cases {
		if got := normalizeGender(in); got != want {
			t.Errorf("normalizeGender(%q) = %q, want %q", in, got, want)
		}
	}
}
