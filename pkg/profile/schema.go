package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

const currentSchemaVersion = 2

// document is the persisted representation.
type document struct {
	SchemaVersion int                 `json:"schema_version"`
	Profiles      map[string]*Profile `json:"profiles"`
}

// legacyRecord is the schema-1 shape: a bare map of model id to flat
// statistics without bands, history or a version marker.
type legacyRecord struct {
	SuccessRate     float64  `json:"successRate"`
	QualityScore    float64  `json:"qualityScore"`
	AvgResponseTime float64  `json:"avgResponseTime"`
	ComplexityScore float64  `json:"complexityScore"`
	BenchmarkCount  int      `json:"benchmarkCount"`
	TokenEfficiency *float64 `json:"tokenEfficiency,omitempty"`
	SystemResources *float64 `json:"systemResourceUsage,omitempty"`
	LastUpdated     string   `json:"lastUpdated,omitempty"`
}

// decode parses any supported schema into the current one.
func decode(data []byte) (*document, error) {
	if len(data) == 0 {
		return emptyDocument(), nil
	}

	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	switch probe.SchemaVersion {
	case 0, 1:
		return migrateV1(data)
	case currentSchemaVersion:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode profiles: %w", err)
		}
		if doc.Profiles == nil {
			doc.Profiles = make(map[string]*Profile)
		}
		return &doc, nil
	default:
		return nil, fmt.Errorf("decode profiles: unsupported schema version %d", probe.SchemaVersion)
	}
}

// migrateV1 converts the legacy bare map into schema 2.
func migrateV1(data []byte) (*document, error) {
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("migrate v1 profiles: %w", err)
	}
	delete(legacy, "schema_version")

	doc := emptyDocument()
	for id, raw := range legacy {
		var rec legacyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("migrate v1 profile %s: %w", id, err)
		}
		p := &Profile{
			ModelID:            id,
			SuccessRate:        rec.SuccessRate,
			QualityScore:       rec.QualityScore,
			AvgResponseTimeMs:  rec.AvgResponseTime,
			ComplexityAffinity: rec.ComplexityScore,
			BenchmarkCount:     rec.BenchmarkCount,
			TokenEfficiency:    rec.TokenEfficiency,
			ResourceUsage:      rec.SystemResources,
			Bands:              make(map[Band]BandStats),
		}
		if p.TokenEfficiency != nil {
			p.TokenSamples = rec.BenchmarkCount
		}
		if p.ResourceUsage != nil {
			p.ResourceSamples = rec.BenchmarkCount
		}
		if t, err := time.Parse(time.RFC3339, rec.LastUpdated); err == nil {
			p.LastUpdated = t
		}
		doc.Profiles[id] = p
	}
	return doc, nil
}

func emptyDocument() *document {
	return &document{SchemaVersion: currentSchemaVersion, Profiles: make(map[string]*Profile)}
}
