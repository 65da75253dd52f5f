// Package bonification classifies promotional detail rows, renumbers regular
// lines, and maps each bonification to its parent regular line.
//
// The processor is pure: it consumes the detail rows fetched for a batch of
// documents and returns transformed rows plus aggregate statistics. Database
// work stays in the engine.
package bonification

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// Processor applies one mapping's bonification config.
type Processor struct {
	cfg    *types.BonificationConfig
	logger *zap.Logger
}

// New creates a processor for the given config.
func New(cfg *types.BonificationConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, logger: logger.Named("bonification")}
}

// Line is one detail row with its classification and assigned numbering.
type Line struct {
	Row            types.Row
	IsBonification bool
	LineNumber     int  // assigned sequential number
	ParentLine     int  // parent regular line (bonifications only)
	HasParent      bool // false for orphans
	Orphan         bool
}

// DocumentGroup is the processed detail set for one document key.
type DocumentGroup struct {
	DocumentID string
	Lines      []Line
}

// Result is the output of processing one batch of detail rows.
type Result struct {
	Groups map[string]*DocumentGroup
	Stats  types.BonificationStats
}

// Process groups rows by the configured order field, classifies each row,
// assigns new sequential line numbers to regular rows (stable on the line
// order field), and links bonifications to the immediately preceding regular
// line. Orphan bonifications follow the configured policy.
func (p *Processor) Process(rows []types.Row, customer *types.CustomerContext) (*Result, error) {
	res := &Result{
		Groups: make(map[string]*DocumentGroup),
		Stats:  types.BonificationStats{BonificationTypes: make(map[string]int)},
	}

	for _, docID := range p.groupOrder(rows) {
		group, err := p.processGroup(docID, p.rowsFor(rows, docID))
		if err != nil {
			return nil, err
		}
		res.Groups[docID] = group

		for _, line := range group.Lines {
			res.Stats.ProcessedDetails++
			if line.IsBonification {
				res.Stats.TotalBonifications++
				if ind, ok := line.Row.Get(p.cfg.BonificationIndicatorField); ok && ind != nil {
					res.Stats.BonificationTypes[fmt.Sprint(ind)]++
				}
			}
		}

		if p.cfg.ApplyPromotionRules {
			added := p.applyPromotionRules(group, customer)
			res.Stats.TotalPromotions += added
		}
	}

	if len(res.Stats.BonificationTypes) == 0 {
		res.Stats.BonificationTypes = nil
	}
	return res, nil
}

// processGroup handles one document's rows, already filtered.
func (p *Processor) processGroup(docID string, rows []types.Row) (*DocumentGroup, error) {
	// Stable order by the source line order field.
	sort.SliceStable(rows, func(i, j int) bool {
		return lineOrder(rows[i], p.cfg.LineOrderField) < lineOrder(rows[j], p.cfg.LineOrderField)
	})

	group := &DocumentGroup{DocumentID: docID}
	nextLine := 0
	lastRegular := 0
	haveRegular := false

	for _, row := range rows {
		line := Line{Row: row.Clone()}
		line.IsBonification = p.isBonification(row)

		nextLine++
		line.LineNumber = nextLine
		line.Row.Set(p.cfg.LineNumberField, line.LineNumber)

		if line.IsBonification {
			if haveRegular {
				line.ParentLine = lastRegular
				line.HasParent = true
				line.Row.Set(p.cfg.BonificationLineReferenceFld, lastRegular)
			} else {
				line.Orphan = true
				switch p.cfg.EffectiveOrphanPolicy() {
				case types.OrphanDrop:
					p.logger.Warn("dropping orphan bonification line",
						zap.String("document", docID),
						zap.Int("line", line.LineNumber))
					nextLine--
					continue
				case types.OrphanFail:
					return nil, fmt.Errorf("bonification: document %s has an orphan bonification line", docID)
				default: // passThrough
					line.Row.Set(p.cfg.BonificationLineReferenceFld, nil)
				}
			}
		} else {
			lastRegular = line.LineNumber
			haveRegular = true
			line.Row.Set(p.cfg.BonificationLineReferenceFld, nil)
		}

		group.Lines = append(group.Lines, line)
	}
	return group, nil
}

func (p *Processor) isBonification(row types.Row) bool {
	v, ok := row.Get(p.cfg.BonificationIndicatorField)
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == p.cfg.BonificationIndicatorValue
}

// groupOrder returns document ids in first-appearance order so output is
// deterministic for a given input.
func (p *Processor) groupOrder(rows []types.Row) []string {
	seen := make(map[string]bool)
	var order []string
	for _, row := range rows {
		id := p.documentID(row)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	return order
}

func (p *Processor) rowsFor(rows []types.Row, docID string) []types.Row {
	var out []types.Row
	for _, row := range rows {
		if p.documentID(row) == docID {
			out = append(out, row)
		}
	}
	return out
}

func (p *Processor) documentID(row types.Row) string {
	v, _ := row.Get(p.cfg.OrderField)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// lineOrder reads the source line number, tolerating string columns.
func lineOrder(row types.Row, field string) float64 {
	v, ok := row.Get(field)
	if !ok || v == nil {
		return 0
	}
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
