package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthbench/healthbench/internal/platform/openai"
	"github.com/healthbench/healthbench/internal/platform/terminology"
)

// ErrTextTooShort is returned when the note text is under the minimum
// length for a meaningful extraction.
var ErrTextTooShort = errors.New("extraction: text must be at least 10 characters long")

const (
	minTextLength = 10
	enrichWorkers = 4
)

// CompletionClient is the slice of the LLM client the pipeline needs.
type CompletionClient interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error)
	DefaultModel() string
}

// DiagnosisLookup resolves condition phrases to ICD-10-CM candidates.
// *terminology.ICD10Client satisfies it.
type DiagnosisLookup interface {
	Search(ctx context.Context, term string) (terminology.DiagnosisLookup, error)
}

// MedicationLookup normalizes medication phrases to RxNorm concepts.
// *terminology.RxNormClient satisfies it.
type MedicationLookup interface {
	Search(ctx context.Context, term string) (terminology.MedicationLookup, error)
}

// Service runs the extraction pipeline: one entity-extraction completion,
// then concurrent code enrichment against the NLM terminology services.
// Enrichment failures degrade the affected entity to an uncoded one; only
// a failed entity-extraction stage fails the whole request.
type Service struct {
	completer   CompletionClient
	diagnoses   DiagnosisLookup
	medications MedicationLookup
	logger      zerolog.Logger
}

func NewService(completer CompletionClient, diagnoses DiagnosisLookup, medications MedicationLookup, logger zerolog.Logger) *Service {
	return &Service{
		completer:   completer,
		diagnoses:   diagnoses,
		medications: medications,
		logger:      logger,
	}
}

// Extract pulls structured clinical data out of a free-text medical note.
func (s *Service) Extract(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if len(text) < minTextLength {
		return nil, ErrTextTooShort
	}

	start := time.Now()
	s.logger.Info().Int("text_length", len(text)).Msg("starting extraction")

	entities, model, err := s.extractEntities(ctx, text)
	if err != nil {
		return nil, err
	}

	data := StructuredClinicalData{
		PatientInfo: entities.patientInfo,
		VitalSigns:  entities.vitalSigns,
		Diagnoses:   make([]DiagnosisCode, len(entities.diagnoses)),
		Medications: make([]MedicationCode, len(entities.medications)),
		LabResults:  entities.labResults,
		PlanActions: entities.planActions,
	}
	if data.LabResults == nil {
		data.LabResults = []string{}
	}
	if data.PlanActions == nil {
		data.PlanActions = []string{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)
	for i, term := range entities.diagnoses {
		i, term := i, term
		g.Go(func() error {
			data.Diagnoses[i] = s.enrichDiagnosis(gctx, term)
			return nil
		})
	}
	for i, term := range entities.medications {
		i, term := i, term
		g.Go(func() error {
			data.Medications[i] = s.enrichMedication(gctx, term)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("diagnoses", len(data.Diagnoses)).
		Int("medications", len(data.Medications)).
		Int("labs", len(data.LabResults)).
		Int("plan_actions", len(data.PlanActions)).
		Dur("elapsed", time.Since(start)).
		Msg("extraction complete")

	return &Result{
		StructuredClinicalData: data,
		ProcessingTimeMS:       time.Since(start).Milliseconds(),
		ModelUsed:              model,
	}, nil
}

// extractedEntities is the lenient intermediate form of the model's JSON.
type extractedEntities struct {
	diagnoses   []string
	medications []string
	vitalSigns  *VitalSigns
	labResults  []string
	planActions []string
	patientInfo *PatientInfo
}

func (s *Service) extractEntities(ctx context.Context, text string) (*extractedEntities, string, error) {
	completion, err := s.completer.Complete(ctx, openai.CompletionRequest{
		System:      entityExtractionSystemPrompt,
		Prompt:      text,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("entity extraction: %w", err)
	}

	var raw struct {
		Diagnoses   json.RawMessage `json:"diagnoses"`
		Medications json.RawMessage `json:"medications"`
		VitalSigns  json.RawMessage `json:"vital_signs"`
		LabResults  json.RawMessage `json:"lab_results"`
		PlanActions json.RawMessage `json:"plan_actions"`
		PatientInfo json.RawMessage `json:"patient_info"`
	}
	if err := json.Unmarshal([]byte(completion.Text), &raw); err != nil {
		return nil, "", &openai.APIError{
			Kind:    openai.KindMalformedResponse,
			Message: fmt.Sprintf("entity extraction returned invalid JSON: %v", err),
		}
	}

	// Individual fields decode leniently: a malformed field is dropped,
	// never the whole extraction.
	out := &extractedEntities{
		diagnoses:   s.decodeStringList(raw.Diagnoses, "diagnoses"),
		medications: s.decodeStringList(raw.Medications, "medications"),
		labResults:  s.decodeStringList(raw.LabResults, "lab_results"),
		planActions: s.decodeStringList(raw.PlanActions, "plan_actions"),
		vitalSigns:  s.decodeVitalSigns(raw.VitalSigns),
		patientInfo: s.decodePatientInfo(raw.PatientInfo),
	}
	return out, completion.Model, nil
}

func (s *Service) decodeStringList(raw json.RawMessage, field string) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn().Str("field", field).Msg("dropping malformed extraction field")
		return nil
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s *Service) decodeVitalSigns(raw json.RawMessage) *VitalSigns {
	fields := s.decodeStringMap(raw, "vital_signs")
	if fields == nil {
		return nil
	}
	vs := &VitalSigns{
		Temperature:      fields["temperature"],
		BloodPressure:    fields["blood_pressure"],
		HeartRate:        fields["heart_rate"],
		RespiratoryRate:  fields["respiratory_rate"],
		OxygenSaturation: fields["oxygen_saturation"],
		Weight:           fields["weight"],
		Height:           fields["height"],
		BMI:              fields["bmi"],
	}
	if *vs == (VitalSigns{}) {
		return nil
	}
	return vs
}

func (s *Service) decodePatientInfo(raw json.RawMessage) *PatientInfo {
	fields := s.decodeStringMap(raw, "patient_info")
	if fields == nil {
		return nil
	}
	pi := &PatientInfo{Age: fields["age"], Gender: fields["gender"]}
	if pi.Age == nil && pi.Gender == nil {
		return nil
	}
	return pi
}

// decodeStringMap tolerates models emitting numbers where strings were
// asked for.
func (s *Service) decodeStringMap(raw json.RawMessage, field string) map[string]*string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		s.logger.Warn().Str("field", field).Msg("dropping malformed extraction field")
		return nil
	}
	out := make(map[string]*string, len(obj))
	for key, val := range obj {
		if str, ok := flexString(val); ok {
			out[key] = &str
		}
	}
	return out
}

func flexString(raw json.RawMessage) (string, bool) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimSpace(str)
		return str, str != ""
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), true
	}
	return "", false
}

// enrichDiagnosis attaches an ICD-10-CM code to a diagnosis phrase. A
// single candidate is an exact match; several candidates go to the model
// for disambiguation; no candidates, or a lookup failure, leave the
// phrase uncoded.
func (s *Service) enrichDiagnosis(ctx context.Context, text string) DiagnosisCode {
	dc := DiagnosisCode{Text: text, Confidence: ConfidenceNone}

	lookup, err := s.diagnoses.Search(ctx, broadenTerm(text))
	if err != nil || lookup.Failed || len(lookup.Candidates) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Str("diagnosis", text).Msg("ICD-10 lookup error")
		}
		return dc
	}

	if len(lookup.Candidates) == 1 {
		dc.ICD10Code = &lookup.Candidates[0].Code
		dc.ICD10Description = &lookup.Candidates[0].Description
		dc.Confidence = ConfidenceExact
		return dc
	}

	chosen, ok := s.disambiguate(ctx, text, lookup.Candidates)
	dc.ICD10Code = &chosen.Code
	dc.ICD10Description = &chosen.Description
	if ok {
		dc.Confidence = ConfidenceHigh
	} else {
		dc.Confidence = ConfidenceLow
	}
	return dc
}

// disambiguate asks the model to pick one candidate. When the answer does
// not name any candidate, or the call fails, the first (best-ranked)
// candidate is kept with low confidence.
func (s *Service) disambiguate(ctx context.Context, text string, candidates []terminology.DiagnosisCandidate) (terminology.DiagnosisCandidate, bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Diagnosis: %s\n\nCandidates:\n", text)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, c.Code, c.Description)
	}

	completion, err := s.completer.Complete(ctx, openai.CompletionRequest{
		System:      disambiguationSystemPrompt,
		Prompt:      sb.String(),
		Temperature: 0,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("diagnosis", text).Msg("disambiguation call failed, keeping first candidate")
		return candidates[0], false
	}

	// Longest matching code wins: ICD-10 candidate sets routinely contain a
	// category code that is a prefix of its subcategories (E11.6, E11.65),
	// and a first-substring-hit would record the broader code.
	answer := strings.ToUpper(completion.Text)
	best := -1
	for i, c := range candidates {
		code := strings.ToUpper(c.Code)
		if !strings.Contains(answer, code) {
			continue
		}
		if best == -1 || len(code) > len(candidates[best].Code) {
			best = i
		}
	}
	if best >= 0 {
		return candidates[best], true
	}
	s.logger.Warn().Str("diagnosis", text).Str("answer", completion.Text).Msg("disambiguation answer matched no candidate")
	return candidates[0], false
}

func (s *Service) enrichMedication(ctx context.Context, text string) MedicationCode {
	mc := MedicationCode{Text: text, Confidence: ConfidenceNone}

	lookup, err := s.medications.Search(ctx, text)
	if err != nil || lookup.Failed || lookup.RxCUI == "" {
		if err != nil {
			s.logger.Warn().Err(err).Str("medication", text).Msg("RxNorm lookup error")
		}
		return mc
	}

	rxcui, name := lookup.RxCUI, lookup.Name
	mc.RxNormCode = &rxcui
	mc.RxNormName = &name
	mc.Confidence = lookup.Confidence
	return mc
}

var parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)

// broadenTerm strips qualifier clauses so the terminology search sees the
// core condition ("type 2 diabetes mellitus (poorly controlled), with
// neuropathy" becomes "type 2 diabetes mellitus").
func broadenTerm(term string) string {
	broadened := parenthetical.ReplaceAllString(term, "")
	for _, sep := range []string{",", " with ", " due to "} {
		if idx := strings.Index(broadened, sep); idx > 0 {
			broadened = broadened[:idx]
		}
	}
	broadened = strings.TrimSpace(broadened)
	if broadened == "" {
		return strings.TrimSpace(term)
	}
	return broadened
}
