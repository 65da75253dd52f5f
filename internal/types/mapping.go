package types

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping is the full configuration driving one transfer shape. It is
// immutable from the engine's point of view for the duration of an execution.
type Mapping struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	SourceServer string `yaml:"sourceServer" json:"sourceServer"`
	TargetServer string `yaml:"targetServer" json:"targetServer"`

	TableConfigs      []TableConfig      `yaml:"tableConfigs" json:"tableConfigs"`
	DocumentTypeRules []DocumentTypeRule `yaml:"documentTypeRules,omitempty" json:"documentTypeRules,omitempty"`

	Consecutive ConsecutiveConfig `yaml:"consecutiveConfig,omitempty" json:"consecutiveConfig,omitempty"`

	MarkProcessedField    string              `yaml:"markProcessedField,omitempty" json:"markProcessedField,omitempty"`
	MarkProcessedValue    string              `yaml:"markProcessedValue,omitempty" json:"markProcessedValue,omitempty"`
	MarkUnprocessedValue  string              `yaml:"markUnprocessedValue,omitempty" json:"markUnprocessedValue,omitempty"`
	MarkProcessedStrategy MarkStrategy        `yaml:"markProcessedStrategy,omitempty" json:"markProcessedStrategy,omitempty"`
	MarkProcessedConfig   MarkProcessedConfig `yaml:"markProcessedConfig,omitempty" json:"markProcessedConfig,omitempty"`

	HasBonificationProcessing bool                `yaml:"hasBonificationProcessing,omitempty" json:"hasBonificationProcessing,omitempty"`
	Bonification              *BonificationConfig `yaml:"bonificationConfig,omitempty" json:"bonificationConfig,omitempty"`
}

// TableConfig describes one source→target table pair. Detail tables reference
// their parent main table by name through ParentTableRef.
type TableConfig struct {
	Name             string         `yaml:"name" json:"name"`
	SourceTable      string         `yaml:"sourceTable" json:"sourceTable"`
	TargetTable      string         `yaml:"targetTable" json:"targetTable"`
	PrimaryKey       string         `yaml:"primaryKey" json:"primaryKey"`
	TargetPrimaryKey string         `yaml:"targetPrimaryKey,omitempty" json:"targetPrimaryKey,omitempty"`
	ExecutionOrder   int            `yaml:"executionOrder" json:"executionOrder"`
	IsDetailTable    bool           `yaml:"isDetailTable,omitempty" json:"isDetailTable,omitempty"`
	ParentTableRef   string         `yaml:"parentTableRef,omitempty" json:"parentTableRef,omitempty"`
	CustomQuery      string         `yaml:"customQuery,omitempty" json:"customQuery,omitempty"`
	FilterCondition  string         `yaml:"filterCondition,omitempty" json:"filterCondition,omitempty"`
	OrderByColumn    string         `yaml:"orderByColumn,omitempty" json:"orderByColumn,omitempty"`
	FieldMappings    []FieldMapping `yaml:"fieldMappings" json:"fieldMappings"`
}

// EffectiveTargetKey returns the target-side primary key column, falling back
// to the source primary key when none is configured.
func (tc *TableConfig) EffectiveTargetKey() string {
	if tc.TargetPrimaryKey != "" {
		return tc.TargetPrimaryKey
	}
	return tc.PrimaryKey
}

// FieldMapping resolves one target column from the source row, a default, a
// target-side lookup, or a raw SQL expression.
type FieldMapping struct {
	SourceField  string `yaml:"sourceField,omitempty" json:"sourceField,omitempty"`
	TargetField  string `yaml:"targetField" json:"targetField"`
	DefaultValue string `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	IsRequired   bool   `yaml:"isRequired,omitempty" json:"isRequired,omitempty"`
	RemovePrefix string `yaml:"removePrefix,omitempty" json:"removePrefix,omitempty"`

	ValueMappings  []ValueMapping  `yaml:"valueMappings,omitempty" json:"valueMappings,omitempty"`
	UnitConversion *UnitConversion `yaml:"unitConversion,omitempty" json:"unitConversion,omitempty"`

	LookupFromTarget  bool          `yaml:"lookupFromTarget,omitempty" json:"lookupFromTarget,omitempty"`
	LookupQuery       string        `yaml:"lookupQuery,omitempty" json:"lookupQuery,omitempty"`
	LookupParams      []LookupParam `yaml:"lookupParams,omitempty" json:"lookupParams,omitempty"`
	FailIfNotFound    bool          `yaml:"failIfNotFound,omitempty" json:"failIfNotFound,omitempty"`
	ValidateExistence bool          `yaml:"validateExistence,omitempty" json:"validateExistence,omitempty"`
}

// HasDefault reports whether a default value is configured. The literal
// "NULL" counts: it is the sentinel for SQL NULL.
func (fm *FieldMapping) HasDefault() bool { return fm.DefaultValue != "" }

// ValueMapping replaces one source value with a target value.
type ValueMapping struct {
	SourceValue string `yaml:"sourceValue" json:"sourceValue"`
	TargetValue string `yaml:"targetValue" json:"targetValue"`
}

// LookupParam binds a source row field to a named parameter of a lookup query.
type LookupParam struct {
	SourceField string `yaml:"sourceField" json:"sourceField"`
	ParamName   string `yaml:"paramName" json:"paramName"`
}

// UnitConversion multiplies or divides a numeric value by a conversion factor
// read from the source row.
type UnitConversion struct {
	Enabled              bool   `yaml:"enabled" json:"enabled"`
	Operation            string `yaml:"operation,omitempty" json:"operation,omitempty"` // "multiply" (default) or "divide"
	UnitMeasureField     string `yaml:"unitMeasureField,omitempty" json:"unitMeasureField,omitempty"`
	ConversionFactorFld  string `yaml:"conversionFactorField,omitempty" json:"conversionFactorField,omitempty"`
	Decimals             int    `yaml:"decimals,omitempty" json:"decimals,omitempty"`
	HasDecimalsSpecified bool   `yaml:"hasDecimals,omitempty" json:"hasDecimals,omitempty"`
}

// DocumentTypeRule classifies a document by a source field value. Rules are
// evaluated in order; the first match wins.
type DocumentTypeRule struct {
	Name         string   `yaml:"name" json:"name"`
	SourceField  string   `yaml:"sourceField" json:"sourceField"`
	SourceValues []string `yaml:"sourceValues" json:"sourceValues"`
}

// DocumentTypeUnknown is returned when no rule matches.
const DocumentTypeUnknown = "unknown"

// ClassifyDocument applies the rules against a source row.
func ClassifyDocument(rules []DocumentTypeRule, row Row) string {
	for _, r := range rules {
		v, ok := row.Get(r.SourceField)
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		for _, want := range r.SourceValues {
			if s == want {
				return r.Name
			}
		}
	}
	return DocumentTypeUnknown
}

// ConsecutiveConfig controls consecutive-number assignment for a mapping.
type ConsecutiveConfig struct {
	Enabled               bool           `yaml:"enabled" json:"enabled"`
	UseCentralizedService bool           `yaml:"useCentralizedService,omitempty" json:"useCentralizedService,omitempty"`
	ConsecutiveName       string         `yaml:"consecutiveName,omitempty" json:"consecutiveName,omitempty"`
	FieldName             string         `yaml:"fieldName,omitempty" json:"fieldName,omitempty"`
	DetailFieldName       string         `yaml:"detailFieldName,omitempty" json:"detailFieldName,omitempty"`
	ApplyToTables         []ApplyToTable `yaml:"applyToTables,omitempty" json:"applyToTables,omitempty"`
	Pattern               string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Prefix                string         `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Padding               int            `yaml:"padding,omitempty" json:"padding,omitempty"`
	StartValue            int64          `yaml:"startValue,omitempty" json:"startValue,omitempty"`
	Increment             int64          `yaml:"increment,omitempty" json:"increment,omitempty"`
	LastValue             int64          `yaml:"lastValue,omitempty" json:"lastValue,omitempty"` // local mode only
}

// ApplyToTable names an extra (table, field) pair that receives the reserved
// consecutive value.
type ApplyToTable struct {
	TableName string `yaml:"tableName" json:"tableName"`
	FieldName string `yaml:"fieldName" json:"fieldName"`
}

// FieldFor returns the consecutive target column for the given table config,
// or "" when the config does not receive the consecutive.
func (cc *ConsecutiveConfig) FieldFor(tc *TableConfig) string {
	if !cc.Enabled {
		return ""
	}
	for _, a := range cc.ApplyToTables {
		if strings.EqualFold(a.TableName, tc.Name) || strings.EqualFold(a.TableName, tc.TargetTable) {
			return a.FieldName
		}
	}
	if tc.IsDetailTable {
		if cc.DetailFieldName != "" {
			return cc.DetailFieldName
		}
		return cc.FieldName
	}
	return cc.FieldName
}

// EffectiveIncrement returns the configured increment, defaulting to 1.
func (cc *ConsecutiveConfig) EffectiveIncrement() int64 {
	if cc.Increment > 0 {
		return cc.Increment
	}
	return 1
}

// MarkProcessedConfig tunes the mark-as-processed behavior.
type MarkProcessedConfig struct {
	AllowRollback bool `yaml:"allowRollback,omitempty" json:"allowRollback,omitempty"`
}

// BonificationConfig drives promotion-line expansion for mappings that carry
// bonification detail rows.
type BonificationConfig struct {
	SourceTable                   string       `yaml:"sourceTable" json:"sourceTable"`
	OrderField                    string       `yaml:"orderField" json:"orderField"`
	LineOrderField                string       `yaml:"lineOrderField" json:"lineOrderField"`
	BonificationIndicatorField    string       `yaml:"bonificationIndicatorField" json:"bonificationIndicatorField"`
	BonificationIndicatorValue    string       `yaml:"bonificationIndicatorValue" json:"bonificationIndicatorValue"`
	LineNumberField               string       `yaml:"lineNumberField" json:"lineNumberField"`
	BonificationLineReferenceFld  string       `yaml:"bonificationLineReferenceField" json:"bonificationLineReferenceField"`
	ApplyPromotionRules           bool         `yaml:"applyPromotionRules,omitempty" json:"applyPromotionRules,omitempty"`
	OrphanPolicy                  OrphanPolicy `yaml:"orphanPolicy,omitempty" json:"orphanPolicy,omitempty"`
	PromotionRules                []PromotionRule `yaml:"promotionRules,omitempty" json:"promotionRules,omitempty"`
}

// EffectiveOrphanPolicy defaults to passThrough when unset.
func (bc *BonificationConfig) EffectiveOrphanPolicy() OrphanPolicy {
	if bc.OrphanPolicy == "" {
		return OrphanPassThrough
	}
	return bc.OrphanPolicy
}

// PromotionRule is a deterministic rule applied to a document's detail group.
// Type is one of "oneTimeOffer", "familyDiscount", "scaledPromotion".
type PromotionRule struct {
	Type          string  `yaml:"type" json:"type"`
	ArticleField  string  `yaml:"articleField,omitempty" json:"articleField,omitempty"`
	QuantityField string  `yaml:"quantityField,omitempty" json:"quantityField,omitempty"`
	DiscountField string  `yaml:"discountField,omitempty" json:"discountField,omitempty"`
	Family        string  `yaml:"family,omitempty" json:"family,omitempty"`
	FamilyPrefix  string  `yaml:"familyPrefix,omitempty" json:"familyPrefix,omitempty"`
	Article       string  `yaml:"article,omitempty" json:"article,omitempty"`
	BonusArticle  string  `yaml:"bonusArticle,omitempty" json:"bonusArticle,omitempty"`
	MinQuantity   float64 `yaml:"minQuantity,omitempty" json:"minQuantity,omitempty"`
	MinAmount     float64 `yaml:"minAmount,omitempty" json:"minAmount,omitempty"`
	BonusPerStep  float64 `yaml:"bonusPerStep,omitempty" json:"bonusPerStep,omitempty"`
	StepQuantity  float64 `yaml:"stepQuantity,omitempty" json:"stepQuantity,omitempty"`
	DiscountPct   float64 `yaml:"discountPct,omitempty" json:"discountPct,omitempty"`
}

// CustomerContext carries the customer attributes promotion rules may key on.
type CustomerContext struct {
	CustomerID   string  `yaml:"customerId,omitempty" json:"customerId,omitempty"`
	CustomerType string  `yaml:"customerType,omitempty" json:"customerType,omitempty"`
	PriceList    string  `yaml:"priceList,omitempty" json:"priceList,omitempty"`
	Zone         string  `yaml:"zone,omitempty" json:"zone,omitempty"`
	OrderAmount  float64 `yaml:"orderAmount,omitempty" json:"orderAmount,omitempty"`
	OrderDate    string  `yaml:"orderDate,omitempty" json:"orderDate,omitempty"`
}

// Validate checks the structural invariants of a mapping: at least one table
// config, detail tables referencing a known main table, lookup fields carrying
// a query, and a resolvable consecutive pattern. Validation failures are
// configuration errors and abort the whole execution.
func (m *Mapping) Validate() error {
	if len(m.TableConfigs) == 0 {
		return fmt.Errorf("mapping %s: no tableConfigs", m.Name)
	}
	mains := make(map[string]bool, len(m.TableConfigs))
	for i := range m.TableConfigs {
		tc := &m.TableConfigs[i]
		if tc.Name == "" {
			return fmt.Errorf("mapping %s: tableConfig %d has no name", m.Name, i)
		}
		if !tc.IsDetailTable {
			mains[tc.Name] = true
		}
	}
	for i := range m.TableConfigs {
		tc := &m.TableConfigs[i]
		if tc.IsDetailTable {
			if tc.ParentTableRef == "" {
				return fmt.Errorf("mapping %s: detail table %q has no parentTableRef", m.Name, tc.Name)
			}
			if !mains[tc.ParentTableRef] {
				return fmt.Errorf("mapping %s: detail table %q references unknown parent %q", m.Name, tc.Name, tc.ParentTableRef)
			}
		}
		for j := range tc.FieldMappings {
			fm := &tc.FieldMappings[j]
			if fm.TargetField == "" {
				return fmt.Errorf("mapping %s: table %q fieldMapping %d has no targetField", m.Name, tc.Name, j)
			}
			if fm.LookupFromTarget && fm.LookupQuery == "" {
				return fmt.Errorf("mapping %s: table %q field %q: lookupFromTarget without lookupQuery", m.Name, tc.Name, fm.TargetField)
			}
		}
	}
	if m.HasBonificationProcessing {
		bc := m.Bonification
		if bc == nil {
			return fmt.Errorf("mapping %s: hasBonificationProcessing without bonificationConfig", m.Name)
		}
		if bc.OrderField == "" || bc.LineOrderField == "" {
			return fmt.Errorf("mapping %s: bonificationConfig requires orderField and lineOrderField", m.Name)
		}
		switch bc.EffectiveOrphanPolicy() {
		case OrphanPassThrough, OrphanDrop, OrphanFail:
		default:
			return fmt.Errorf("mapping %s: unknown orphanPolicy %q", m.Name, bc.OrphanPolicy)
		}
	}
	switch m.MarkProcessedStrategy {
	case "", MarkIndividual, MarkBatch, MarkNone:
	default:
		return fmt.Errorf("mapping %s: unknown markProcessedStrategy %q", m.Name, m.MarkProcessedStrategy)
	}
	if m.MarkProcessedStrategy != "" && m.MarkProcessedStrategy != MarkNone && m.MarkProcessedField == "" {
		return fmt.Errorf("mapping %s: markProcessedStrategy %q without markProcessedField", m.Name, m.MarkProcessedStrategy)
	}
	return nil
}

// MainTables returns the non-detail table configs in ascending executionOrder,
// ties broken by declaration order.
func (m *Mapping) MainTables() []*TableConfig {
	var out []*TableConfig
	for i := range m.TableConfigs {
		if !m.TableConfigs[i].IsDetailTable {
			out = append(out, &m.TableConfigs[i])
		}
	}
	sortByExecutionOrder(out)
	return out
}

// ChildIndex builds the parent→details forest once per execution. Details are
// ordered by executionOrder within each parent.
func (m *Mapping) ChildIndex() map[string][]*TableConfig {
	idx := make(map[string][]*TableConfig)
	for i := range m.TableConfigs {
		tc := &m.TableConfigs[i]
		if tc.IsDetailTable {
			idx[tc.ParentTableRef] = append(idx[tc.ParentTableRef], tc)
		}
	}
	for _, details := range idx {
		sortByExecutionOrder(details)
	}
	return idx
}

func sortByExecutionOrder(tcs []*TableConfig) {
	sort.SliceStable(tcs, func(i, j int) bool {
		return tcs[i].ExecutionOrder < tcs[j].ExecutionOrder
	})
}
