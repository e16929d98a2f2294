package validator

import (
	"fmt"
	"strings"
)

// MetadataProfile drives the secondary metadata pass for one credential
// type: extract variables from the subject, translate coded values through
// dictionaries, then require the mandatory fields.
type MetadataProfile struct {
	CredType string

	// Variables maps an output name to a dotted path inside the credential subject.
	Variables map[string]string

	// Dictionaries translate a variable's coded value into a display value,
	// stored under "<name>Display".
	Dictionaries map[string]map[string]string

	Mandatory []string
}

// DefaultMetadataProfiles covers the credential types the pipeline ships
// dictionaries for.
func DefaultMetadataProfiles() []MetadataProfile {
	vaccines := map[string]string{
		"J07BX03": "COVID-19 vaccine",
		"J07BB02": "Influenza, inactivated",
		"J07BC01": "Hepatitis B",
		"207":     "COVID-19, mRNA, LNP-S, PF, 100 mcg/0.5mL dose",
		"208":     "COVID-19, mRNA, LNP-S, PF, 30 mcg/0.3 mL dose",
	}
	return []MetadataProfile{
		{
			CredType: "VaccinationCertificate",
			Variables: map[string]string{
				"vaccineCode": "vaccineCode",
				"doseNumber":  "doseNumber",
				"occurrence":  "occurrenceAt",
				"holderName":  "name",
			},
			Dictionaries: map[string]map[string]string{"vaccineCode": vaccines},
			Mandatory:    []string{"vaccineCode", "occurrence"},
		},
		{
			CredType: "immunization",
			Variables: map[string]string{
				"vaccineCode": "vaccineCode",
				"occurrence":  "occurrenceDateTime",
				"lotNumber":   "lotNumber",
			},
			Dictionaries: map[string]map[string]string{"vaccineCode": vaccines},
			Mandatory:    []string{"vaccineCode"},
		},
	}
}

// MetadataError reports a mandatory field missing after extraction.
type MetadataError struct {
	CredType string
	Missing  []string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata for %s missing mandatory fields: %s", e.CredType, strings.Join(e.Missing, ", "))
}

type metadataGenerator struct {
	profiles map[string]MetadataProfile
}

func newMetadataGenerator(profiles []MetadataProfile) *metadataGenerator {
	g := &metadataGenerator{profiles: make(map[string]MetadataProfile, len(profiles))}
	for _, p := range profiles {
		g.profiles[p.CredType] = p
	}
	return g
}

// generate returns nil metadata and nil error for types without a profile.
func (g *metadataGenerator) generate(credType string, subject map[string]any) (map[string]any, error) {
	p, ok := g.profiles[credType]
	if !ok {
		return nil, nil
	}

	out := map[string]any{"credType": credType}
	for name, path := range p.Variables {
		if v, ok := lookup(subject, path); ok {
			out[name] = v
		}
	}
	for name, dict := range p.Dictionaries {
		code, ok := out[name]
		if !ok {
			continue
		}
		if display, ok := dict[fmt.Sprint(code)]; ok {
			out[name+"Display"] = display
		}
	}

	var missing []string
	for _, name := range p.Mandatory {
		if v, ok := out[name]; !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MetadataError{CredType: credType, Missing: missing}
	}
	return out, nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}
