package ddl

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02 15:04:05.999999Z07:00"

// QuoteIdentifier экранирует имя таблицы, колонки, индекса или ограничения.
func QuoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral экранирует строковый литерал. Строки с обратным слешем выводятся в форме E'...'.
func QuoteLiteral(literal string) string {
	literal = strings.ReplaceAll(literal, "\x00", "")
	literal = strings.ReplaceAll(literal, `'`, `''`)
	if strings.Contains(literal, `\`) {
		return `E'` + strings.ReplaceAll(literal, `\`, `\\`) + `'`
	}
	return `'` + literal + `'`
}

// Literal форматирует значение как SQL-литерал.
// Время приводится к UTC, структуры, слайсы и мапы сериализуются в JSON, Func выводится как есть.
func Literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case Func:
		return string(v), nil
	case string:
		return QuoteLiteral(v), nil
	case []byte:
		return QuoteLiteral(`\x` + hex.EncodeToString(v)), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return formatFloat(float64(v), 32), nil
	case float64:
		return formatFloat(v, 64), nil
	case time.Time:
		return QuoteLiteral(v.UTC().Format(timestampLayout)), nil
	case *time.Time:
		if v == nil {
			return "NULL", nil
		}
		return QuoteLiteral(v.UTC().Format(timestampLayout)), nil
	case uuid.UUID:
		return QuoteLiteral(v.String()), nil
	case json.RawMessage:
		return QuoteLiteral(string(v)), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encode literal %T: %w", value, err)
		}
		return QuoteLiteral(string(raw)), nil
	}

	return "", fmt.Errorf("unsupported literal type %T", value)
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'"
	case math.IsInf(f, 1):
		return "'Infinity'"
	case math.IsInf(f, -1):
		return "'-Infinity'"
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize)
}
