package extraction

// Confidence levels attached to enriched codes.
const (
	ConfidenceExact       = "exact"
	ConfidenceHigh        = "high"
	ConfidenceLow         = "low"
	ConfidenceApproximate = "approximate"
	ConfidenceNone        = "none"
)

// PatientInfo holds the demographics the note states, if any.
type PatientInfo struct {
	Age    *string `json:"age"`
	Gender *string `json:"gender"`
}

// VitalSigns keeps every measurement as free text, exactly as the note
// records it ("120/80", "98.6F").
type VitalSigns struct {
	Temperature      *string `json:"temperature"`
	BloodPressure    *string `json:"blood_pressure"`
	HeartRate        *string `json:"heart_rate"`
	RespiratoryRate  *string `json:"respiratory_rate"`
	OxygenSaturation *string `json:"oxygen_saturation"`
	Weight           *string `json:"weight"`
	Height           *string `json:"height"`
	BMI              *string `json:"bmi"`
}

// DiagnosisCode is a diagnosis phrase enriched with an ICD-10-CM code.
// Code fields stay nil when no acceptable candidate was found.
type DiagnosisCode struct {
	Text             string  `json:"text"`
	ICD10Code        *string `json:"icd10_code"`
	ICD10Description *string `json:"icd10_description"`
	Confidence       string  `json:"confidence"`
}

// MedicationCode is a medication phrase enriched with an RxNorm code.
type MedicationCode struct {
	Text       string  `json:"text"`
	RxNormCode *string `json:"rxnorm_code"`
	RxNormName *string `json:"rxnorm_name"`
	Confidence string  `json:"confidence"`
}

// StructuredClinicalData is the assembled output of the extraction
// pipeline. List fields are always non-nil.
type StructuredClinicalData struct {
	PatientInfo *PatientInfo     `json:"patient_info"`
	Diagnoses   []DiagnosisCode  `json:"diagnoses"`
	Medications []MedicationCode `json:"medications"`
	VitalSigns  *VitalSigns      `json:"vital_signs"`
	LabResults  []string         `json:"lab_results"`
	PlanActions []string         `json:"plan_actions"`
}

// Result wraps the structured data with run metadata.
type Result struct {
	StructuredClinicalData
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	ModelUsed        string `json:"model_used"`
}
