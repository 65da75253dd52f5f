package dbconn

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// NullSentinel is the configuration literal meaning SQL NULL.
const NullSentinel = "NULL"

// BindValue coerces a raw value to the bind type implied by the target
// column's metadata. Empty strings and the NULL sentinel bind SQL NULL;
// booleans are normalized from common affirmative strings; strings longer
// than the column's max length are truncated at the binding site.
//
// Returns the coerced value. Truncation is reported through the logger, not
// as an error: refusing to truncate is the caller's policy and handled before
// binding.
func BindValue(meta types.ColumnMeta, value any, logger *zap.Logger) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		if s == "" || s == NullSentinel {
			return nil, nil
		}
	}

	switch sqlTypeFamily(meta.SQLType) {
	case familyBool:
		return NormalizeBool(value), nil
	case familyInt:
		return coerceInt(value)
	case familyDecimal:
		return coerceFloat(value)
	case familyDate, familyDateTime:
		return coerceTime(value)
	default: // character and unknown types
		s := asString(value)
		if meta.MaxLength > 0 && len([]rune(s)) > meta.MaxLength {
			truncated := string([]rune(s)[:meta.MaxLength])
			if logger != nil {
				logger.Warn("value truncated at bind",
					zap.Int("maxLength", meta.MaxLength),
					zap.Int("valueLength", len([]rune(s))))
			}
			return truncated, nil
		}
		return s, nil
	}
}

// NormalizeBool interprets the affirmative spellings seen in source data:
// "true"/"1"/"yes"/"s"/"y" (and their upper-case forms) are true, everything
// else false. Non-string values use Go truthiness for numbers and bools.
func NormalizeBool(value any) bool {
	switch x := value.(type) {
	case bool:
		return x
	case int, int32, int64:
		return asInt64(x) != 0
	case float32, float64:
		f, _ := coerceFloat(x)
		return f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "s", "y", "si", "sí":
			return true
		}
		return false
	default:
		return false
	}
}

type typeFamily int

const (
	familyString typeFamily = iota
	familyInt
	familyDecimal
	familyBool
	familyDate
	familyDateTime
)

func sqlTypeFamily(sqlType string) typeFamily {
	switch strings.ToLower(sqlType) {
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint":
		return familyInt
	case "decimal", "numeric", "float", "real", "double", "double precision", "money", "smallmoney":
		return familyDecimal
	case "bit", "bool", "boolean":
		return familyBool
	case "date":
		return familyDate
	case "datetime", "datetime2", "smalldatetime", "timestamp", "timestamptz",
		"timestamp with time zone", "timestamp without time zone":
		return familyDateTime
	default:
		return familyString
	}
}

func coerceInt(value any) (any, error) {
	switch x := value.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return x, nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			// Decimal strings for integer columns lose the fraction.
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return nil, fmt.Errorf("cannot bind %q as integer", x)
			}
			return int64(f), nil
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot bind %T as integer", value)
	}
}

func coerceFloat(value any) (float64, error) {
	switch x := value.(type) {
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
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(x), ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot bind %q as decimal", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot bind %T as decimal", value)
	}
}

// dateLayouts are the accepted textual date forms, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"20060102",
}

func coerceTime(value any) (any, error) {
	switch x := value.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, ErrDateConversion.New("cannot parse %q as date", s)
	default:
		return nil, ErrDateConversion.New("cannot bind %T as date", value)
	}
}
