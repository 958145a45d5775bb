/*
Package factory provides JSON to Go surcharge catalog conversion.

PURPOSE:
  Converts a JSON surcharge type catalog into recargo.SurchargeType values.
  Deployments can rename types or adjust the descriptive percentages
  without code changes. The six codes themselves are fixed.

JSON SCHEMA:
  {
    "types": [
      {"code": "HED", "name": "Hora extra diurna", "category": "overtime",
       "percentage": "25", "is_overtime": true},
      ...
    ]
  }

  Codes missing from the document keep their default entry.

USAGE:
  f := factory.NewCatalogFactory()
  types, err := f.ParseCatalog(jsonString)

  // Or the built-in catalog
  types := factory.DefaultCatalog()

SEE ALSO:
  - recargo/types.go: SurchargeType and the code list
  - store/sqlite/sqlite.go: Seeds the surcharge_types table
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the surcharge catalog.
type CatalogJSON struct {
	Types []SurchargeTypeJSON `json:"types"`
}

// SurchargeTypeJSON represents one catalog entry.
type SurchargeTypeJSON struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"` // overtime, surcharge
	Percentage  decimal.Decimal `json:"percentage"`
	IsOvertime  *bool           `json:"is_overtime,omitempty"`
}

// DefaultCatalogJSON is the catalog under Colombian labour rules.
const DefaultCatalogJSON = `{
  "types": [
    {"code": "HED",  "name": "Hora extra diurna",          "category": "overtime",  "percentage": "25",  "is_overtime": true,
     "description": "Overtime worked between 06:00 and 21:00 on a working day"},
    {"code": "HEN",  "name": "Hora extra nocturna",        "category": "overtime",  "percentage": "75",  "is_overtime": true,
     "description": "Overtime worked between 21:00 and 06:00 on a working day"},
    {"code": "HEFD", "name": "Hora extra festiva diurna",  "category": "overtime",  "percentage": "100", "is_overtime": true,
     "description": "Daytime overtime on a Sunday or holiday"},
    {"code": "HEFN", "name": "Hora extra festiva nocturna","category": "overtime",  "percentage": "150", "is_overtime": true,
     "description": "Night overtime on a Sunday or holiday"},
    {"code": "RN",   "name": "Recargo nocturno",           "category": "surcharge", "percentage": "35",  "is_overtime": false,
     "description": "Ordinary hours worked at night"},
    {"code": "RD",   "name": "Recargo dominical/festivo",  "category": "surcharge", "percentage": "75",  "is_overtime": false,
     "description": "Ordinary hours worked on a Sunday or holiday"}
  ]
}`

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to surcharge types.
type CatalogFactory struct {
	defaults map[recargo.Code]recargo.SurchargeType
}

// NewCatalogFactory creates a factory whose base is the default catalog.
func NewCatalogFactory() *CatalogFactory {
	f := &CatalogFactory{defaults: map[recargo.Code]recargo.SurchargeType{}}
	for _, t := range DefaultCatalog() {
		f.defaults[t.Code] = t
	}
	return f
}

// ParseCatalog parses a JSON catalog. The result always holds the six codes
// in reporting order.
func (f *CatalogFactory) ParseCatalog(jsonStr string) ([]recargo.SurchargeType, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CatalogJSON, filling missing codes from the defaults.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) ([]recargo.SurchargeType, error) {
	byCode := make(map[recargo.Code]recargo.SurchargeType, len(recargo.Codes))
	for code, t := range f.defaults {
		byCode[code] = t
	}

	seen := make(map[recargo.Code]bool)
	for _, tj := range cj.Types {
		t, err := parseType(tj)
		if err != nil {
			return nil, err
		}
		if seen[t.Code] {
			return nil, generic.Invalid("code", "%s listed twice", t.Code)
		}
		seen[t.Code] = true
		byCode[t.Code] = t
	}

	out := make([]recargo.SurchargeType, 0, len(recargo.Codes))
	for i, code := range recargo.Codes {
		t, ok := byCode[code]
		if !ok {
			return nil, generic.Invalid("code", "%s missing from catalog", code)
		}
		t.Order = i + 1
		out = append(out, t)
	}
	return out, nil
}

func parseType(tj SurchargeTypeJSON) (recargo.SurchargeType, error) {
	code := recargo.Code(tj.Code)
	if !code.Valid() {
		return recargo.SurchargeType{}, generic.Invalid("code", "unknown surcharge code %q", tj.Code)
	}
	if tj.Name == "" {
		return recargo.SurchargeType{}, generic.Invalid("name", "required for %s", code)
	}
	if tj.Percentage.IsNegative() {
		return recargo.SurchargeType{}, generic.Invalid("percentage", "must not be negative for %s", code)
	}

	overtime := isOvertimeCode(code)
	if tj.IsOvertime != nil {
		overtime = *tj.IsOvertime
	}
	category := tj.Category
	if category == "" {
		category = "surcharge"
		if overtime {
			category = "overtime"
		}
	}

	return recargo.SurchargeType{
		Code:        code,
		Name:        tj.Name,
		Description: tj.Description,
		Category:    category,
		Percentage:  tj.Percentage,
		IsOvertime:  overtime,
	}, nil
}

func isOvertimeCode(c recargo.Code) bool {
	return c != recargo.CodeRN && c != recargo.CodeRD
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() []recargo.SurchargeType {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(DefaultCatalogJSON), &cj); err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	out := make([]recargo.SurchargeType, 0, len(cj.Types))
	for i, tj := range cj.Types {
		t, err := parseType(tj)
		if err != nil {
			panic(fmt.Sprintf("default catalog: %v", err))
		}
		t.Order = i + 1
		out = append(out, t)
	}
	return out
}
