package bonification

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// applyPromotionRules runs the mapping's promotion rules over one processed
// group. Rules are deterministic functions of the line set plus the customer
// context; they may append synthetic bonus lines or set discount fields.
// Returns the number of promotions applied.
func (p *Processor) applyPromotionRules(group *DocumentGroup, customer *types.CustomerContext) int {
	applied := 0
	for _, rule := range p.cfg.PromotionRules {
		switch rule.Type {
		case "oneTimeOffer":
			applied += p.applyOneTimeOffer(group, &rule, customer)
		case "familyDiscount":
			applied += p.applyFamilyDiscount(group, &rule)
		case "scaledPromotion":
			applied += p.applyScaledPromotion(group, &rule)
		default:
			p.logger.Warn("unknown promotion rule type", zap.String("type", rule.Type))
		}
	}
	return applied
}

// applyOneTimeOffer adds one bonus line when the order amount reaches the
// rule's threshold. The bonus hangs off the last regular line.
func (p *Processor) applyOneTimeOffer(group *DocumentGroup, rule *types.PromotionRule, customer *types.CustomerContext) int {
	if customer == nil || customer.OrderAmount < rule.MinAmount || rule.BonusArticle == "" {
		return 0
	}
	parent, ok := lastRegularLine(group)
	if !ok {
		return 0
	}
	p.appendBonusLine(group, rule, parent, 1)
	return 1
}

// applyFamilyDiscount sets the discount field on every regular line whose
// article belongs to the rule's family.
func (p *Processor) applyFamilyDiscount(group *DocumentGroup, rule *types.PromotionRule) int {
	if rule.DiscountField == "" || rule.DiscountPct <= 0 {
		return 0
	}
	prefix := rule.FamilyPrefix
	if prefix == "" {
		prefix = rule.Family
	}
	applied := 0
	for i := range group.Lines {
		line := &group.Lines[i]
		if line.IsBonification {
			continue
		}
		article, _ := line.Row.Get(rule.ArticleField)
		if article == nil || prefix == "" || !strings.HasPrefix(fmt.Sprint(article), prefix) {
			continue
		}
		line.Row.Set(rule.DiscountField, rule.DiscountPct)
		applied++
	}
	return applied
}

// applyScaledPromotion adds bonus units proportional to the purchased
// quantity of the rule's article: floor(qty/step)·bonusPerStep.
func (p *Processor) applyScaledPromotion(group *DocumentGroup, rule *types.PromotionRule) int {
	if rule.Article == "" || rule.BonusArticle == "" || rule.StepQuantity <= 0 {
		return 0
	}
	applied := 0
	for i := range group.Lines {
		line := &group.Lines[i]
		if line.IsBonification {
			continue
		}
		article, _ := line.Row.Get(rule.ArticleField)
		if article == nil || fmt.Sprint(article) != rule.Article {
			continue
		}
		qty := lineOrder(line.Row, rule.QuantityField)
		if qty < rule.MinQuantity || qty < rule.StepQuantity {
			continue
		}
		bonus := math.Floor(qty/rule.StepQuantity) * rule.BonusPerStep
		if bonus <= 0 {
			continue
		}
		p.appendBonusLine(group, rule, line.LineNumber, bonus)
		applied++
	}
	return applied
}

// appendBonusLine adds a synthetic bonification line referencing a parent
// regular line.
func (p *Processor) appendBonusLine(group *DocumentGroup, rule *types.PromotionRule, parentLine int, quantity float64) {
	lineNo := len(group.Lines) + 1
	row := types.Row{}
	row.Set(p.cfg.OrderField, group.DocumentID)
	row.Set(p.cfg.LineNumberField, lineNo)
	row.Set(p.cfg.BonificationLineReferenceFld, parentLine)
	if rule.ArticleField != "" {
		row.Set(rule.ArticleField, rule.BonusArticle)
	}
	if rule.QuantityField != "" {
		row.Set(rule.QuantityField, quantity)
	}
	if p.cfg.BonificationIndicatorField != "" {
		row.Set(p.cfg.BonificationIndicatorField, p.cfg.BonificationIndicatorValue)
	}
	group.Lines = append(group.Lines, Line{
		Row:            row,
		IsBonification: true,
		LineNumber:     lineNo,
		ParentLine:     parentLine,
		HasParent:      true,
	})
}

func lastRegularLine(group *DocumentGroup) (int, bool) {
	for i := len(group.Lines) - 1; i >= 0; i-- {
		if !group.Lines[i].IsBonification {
			return group.Lines[i].LineNumber, true
		}
	}
	return 0, false
}
