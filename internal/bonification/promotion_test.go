package bonification

import (
	"testing"

	"github.com/docflowhq/docflow/internal/types"
)

func promoConfig(rules ...types.PromotionRule) *types.BonificationConfig {
	cfg := testConfig()
	cfg.ApplyPromotionRules = true
	cfg.PromotionRules = rules
	return cfg
}

func TestOneTimeOffer(t *testing.T) {
	rule := types.PromotionRule{
		Type:          "oneTimeOffer",
		ArticleField:  "ART",
		QuantityField: "QTY",
		BonusArticle:  "GIFT-1",
		MinAmount:     500,
	}
	rows := []types.Row{
		detailRow("P1", 1, "R", types.Row{"ART": "A-1", "QTY": 2}),
		detailRow("P1", 2, "R", types.Row{"ART": "A-2", "QTY": 1}),
	}

	t.Run("threshold reached", func(t *testing.T) {
		p := New(promoConfig(rule), nil)
		res, err := p.Process(rows, &types.CustomerContext{OrderAmount: 750})
		if err != nil {
			t.Fatal(err)
		}
		group := res.Groups["P1"]
		if len(group.Lines) != 3 {
			t.Fatalf("lines = %d, want bonus line appended", len(group.Lines))
		}
		bonus := group.Lines[2]
		if !bonus.IsBonification || bonus.LineNumber != 3 || bonus.ParentLine != 2 {
			t.Errorf("bonus = %+v, want line 3 hanging off last regular line", bonus)
		}
		if art, _ := bonus.Row.Get("ART"); art != "GIFT-1" {
			t.Errorf("bonus article = %v", art)
		}
		if qty, _ := bonus.Row.Get("QTY"); qty != float64(1) {
			t.Errorf("bonus quantity = %v, want 1", qty)
		}
		if res.Stats.TotalPromotions != 1 {
			t.Errorf("promotions = %d", res.Stats.TotalPromotions)
		}
	})

	t.Run("below threshold", func(t *testing.T) {
		p := New(promoConfig(rule), nil)
		res, err := p.Process(rows, &types.CustomerContext{OrderAmount: 100})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Groups["P1"].Lines) != 2 || res.Stats.TotalPromotions != 0 {
			t.Errorf("promotion applied below threshold: %+v", res.Stats)
		}
	})

	t.Run("no customer context", func(t *testing.T) {
		p := New(promoConfig(rule), nil)
		res, err := p.Process(rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Stats.TotalPromotions != 0 {
			t.Errorf("promotion applied without customer context")
		}
	})
}

func TestFamilyDiscount(t *testing.T) {
	rule := types.PromotionRule{
		Type:          "familyDiscount",
		ArticleField:  "ART",
		DiscountField: "DESC_PCT",
		FamilyPrefix:  "FAM-",
		DiscountPct:   12.5,
	}
	p := New(promoConfig(rule), nil)

	rows := []types.Row{
		detailRow("P1", 1, "R", types.Row{"ART": "FAM-100"}),
		detailRow("P1", 2, "R", types.Row{"ART": "OTHER-1"}),
		detailRow("P1", 3, "B", types.Row{"ART": "FAM-200"}),
	}
	res, err := p.Process(rows, nil)
	if err != nil {
		t.Fatal(err)
	}
	group := res.Groups["P1"]

	if pct, _ := group.Lines[0].Row.Get("DESC_PCT"); pct != 12.5 {
		t.Errorf("family line discount = %v, want 12.5", pct)
	}
	if group.Lines[1].Row.Has("DESC_PCT") {
		t.Error("non-family line must not receive the discount")
	}
	if group.Lines[2].Row.Has("DESC_PCT") {
		t.Error("bonification lines are excluded from discounts")
	}
	if res.Stats.TotalPromotions != 1 {
		t.Errorf("promotions = %d, want 1", res.Stats.TotalPromotions)
	}
}

func TestScaledPromotion(t *testing.T) {
	rule := types.PromotionRule{
		Type:          "scaledPromotion",
		ArticleField:  "ART",
		QuantityField: "QTY",
		Article:       "A-1",
		BonusArticle:  "A-1-FREE",
		StepQuantity:  10,
		BonusPerStep:  2,
	}
	p := New(promoConfig(rule), nil)

	t.Run("bonus proportional to quantity", func(t *testing.T) {
		rows := []types.Row{
			detailRow("P1", 1, "R", types.Row{"ART": "A-1", "QTY": 25}),
		}
		res, err := p.Process(rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		group := res.Groups["P1"]
		if len(group.Lines) != 2 {
			t.Fatalf("lines = %d, want bonus appended", len(group.Lines))
		}
		bonus := group.Lines[1]
		// floor(25/10) * 2 = 4 bonus units.
		if qty, _ := bonus.Row.Get("QTY"); qty != float64(4) {
			t.Errorf("bonus qty = %v, want 4", qty)
		}
		if art, _ := bonus.Row.Get("ART"); art != "A-1-FREE" {
			t.Errorf("bonus article = %v", art)
		}
		if bonus.ParentLine != 1 {
			t.Errorf("bonus parent = %d, want the triggering line", bonus.ParentLine)
		}
	})

	t.Run("below one step", func(t *testing.T) {
		rows := []types.Row{
			detailRow("P1", 1, "R", types.Row{"ART": "A-1", "QTY": 7}),
		}
		res, err := p.Process(rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Groups["P1"].Lines) != 1 {
			t.Error("no bonus below one full step")
		}
	})

	t.Run("other articles ignored", func(t *testing.T) {
		rows := []types.Row{
			detailRow("P1", 1, "R", types.Row{"ART": "B-9", "QTY": 100}),
		}
		res, err := p.Process(rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Groups["P1"].Lines) != 1 {
			t.Error("rule must only fire for its article")
		}
	})
}

func TestUnknownRuleTypeIgnored(t *testing.T) {
	p := New(promoConfig(types.PromotionRule{Type: "mystery"}), nil)
	res, err := p.Process([]types.Row{detailRow("P1", 1, "R", nil)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.TotalPromotions != 0 {
		t.Errorf("promotions = %d, want 0", res.Stats.TotalPromotions)
	}
}
