package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// transform runs steps T1–T5 on a plain resolved value: prefix strip, value
// map, unit conversion, date normalization, truncation. Step T6 (consecutive
// overwrite) runs in finishConsecutive so it also covers lookup and
// bonification fields.
func (e *Evaluator) transform(fm *types.FieldMapping, in *RowInput, meta types.TableMeta, value any) any {
	if value == nil {
		return nil
	}

	// T1: removePrefix.
	if fm.RemovePrefix != "" {
		if s, ok := value.(string); ok && strings.HasPrefix(s, fm.RemovePrefix) {
			value = strings.TrimPrefix(s, fm.RemovePrefix)
		}
	}

	// T2: valueMappings, matched on the string form.
	if len(fm.ValueMappings) > 0 {
		s := fmt.Sprint(value)
		for _, vm := range fm.ValueMappings {
			if vm.SourceValue == s {
				value = vm.TargetValue
				break
			}
		}
	}

	// T3: unit conversion.
	if fm.UnitConversion != nil && fm.UnitConversion.Enabled {
		value = e.convertUnits(fm, in.SourceRow, value)
	}

	// T4: date normalization.
	value = normalizeDate(value)

	// T5: truncation against the target column's max length.
	if s, ok := value.(string); ok {
		if cm, found := meta.Column(fm.TargetField); found && cm.MaxLength > 0 {
			if runes := []rune(s); len(runes) > cm.MaxLength {
				e.logger.Warn("truncating value to column length",
					zap.String("field", fm.TargetField),
					zap.Int("maxLength", cm.MaxLength),
					zap.Int("valueLength", len(runes)))
				value = string(runes[:cm.MaxLength])
			}
		}
	}

	return value
}

// unitMeasureFallbacks and conversionFactorFallbacks are the documented
// alternate column names seen across source schemas.
var (
	unitMeasureFallbacks      = []string{"Unit_Measure", "UNI_MED", "UNIDAD", "TIPO_UNIDAD"}
	conversionFactorFallbacks = []string{"Factor_Conversion", "CNT_MAX", "FACTOR", "CONV_FACTOR"}
)

func (e *Evaluator) convertUnits(fm *types.FieldMapping, row types.Row, value any) any {
	uc := fm.UnitConversion

	factorRaw := readWithFallbacks(row, uc.ConversionFactorFld, conversionFactorFallbacks)
	factor, err := parseDecimal(factorRaw)
	if err != nil || factor <= 0 {
		e.logger.Warn("unit conversion skipped: unusable factor",
			zap.String("field", fm.TargetField),
			zap.Any("factor", factorRaw))
		return value
	}

	qty, err := parseDecimal(value)
	if err != nil {
		e.logger.Warn("unit conversion skipped: non-numeric value",
			zap.String("field", fm.TargetField),
			zap.Any("value", value))
		return value
	}

	var converted float64
	switch strings.ToLower(uc.Operation) {
	case "", "multiply":
		converted = qty * factor
	case "divide":
		if factor == 0 {
			return value
		}
		converted = qty / factor
	default:
		e.logger.Warn("unknown unit conversion operation, treating as multiply",
			zap.String("operation", uc.Operation))
		converted = qty * factor
	}

	if uc.HasDecimalsSpecified || uc.Decimals > 0 {
		shift := math.Pow(10, float64(uc.Decimals))
		converted = math.Round(converted*shift) / shift
	}
	return converted
}

func readWithFallbacks(row types.Row, primary string, fallbacks []string) any {
	if primary != "" {
		if v, ok := row.Get(primary); ok && v != nil {
			return v
		}
	}
	for _, name := range fallbacks {
		if v, ok := row.Get(name); ok && v != nil {
			return v
		}
	}
	return nil
}

func parseDecimal(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("nil value")
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.Replace(strings.TrimSpace(x), ",", ".", 1), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// isoDateLayouts are the textual forms recognized as dates, most specific
// first. Pure dates normalize to YYYY-MM-DD; anything with a time component
// normalizes to RFC 3339.
var isoDateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", true},
}

func normalizeDate(value any) any {
	switch x := value.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case string:
		s := strings.TrimSpace(x)
		if !looksLikeISODate(s) {
			return value
		}
		for _, l := range isoDateLayouts {
			t, err := time.Parse(l.layout, s)
			if err != nil {
				continue
			}
			if l.dateOnly || (t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0) {
				return t.Format("2006-01-02")
			}
			return t.Format(time.RFC3339)
		}
		return value
	default:
		return value
	}
}

// looksLikeISODate is a cheap prefilter so ordinary strings skip the parse
// attempts: YYYY-MM-DD at minimum.
func looksLikeISODate(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i, r := range s[:10] {
		switch i {
		case 4, 7:
			if r != '-' {
				return false
			}
		default:
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
