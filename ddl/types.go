package ddl

import (
	"fmt"
)

type Kind int

const (
	KindInteger Kind = iota + 1
	KindBigInt
	KindSmallInt
	KindVarchar
	KindText
	KindBoolean
	KindDate
	KindTimestamp
	KindTimestampTZ
	KindUUID
	KindJSON
	KindNumeric
	KindDouble
	KindArray
)

// DataType описывает тип колонки. Значения создаются только через конструкторы ниже.
type DataType struct {
	kind      Kind
	length    int
	precision int
	scale     int
	elem      *DataType
}

func Integer() DataType     { return DataType{kind: KindInteger} }
func BigInt() DataType      { return DataType{kind: KindBigInt} }
func SmallInt() DataType    { return DataType{kind: KindSmallInt} }
func Text() DataType        { return DataType{kind: KindText} }
func Boolean() DataType     { return DataType{kind: KindBoolean} }
func Date() DataType        { return DataType{kind: KindDate} }
func Timestamp() DataType   { return DataType{kind: KindTimestamp} }
func TimestampTZ() DataType { return DataType{kind: KindTimestampTZ} }
func UUID() DataType        { return DataType{kind: KindUUID} }
func JSON() DataType        { return DataType{kind: KindJSON} }
func Double() DataType      { return DataType{kind: KindDouble} }

// Varchar с длиной 0 означает varchar без ограничения.
func Varchar(length int) DataType {
	return DataType{kind: KindVarchar, length: length}
}

func Numeric(precision, scale int) DataType {
	return DataType{kind: KindNumeric, precision: precision, scale: scale}
}

func ArrayOf(elem DataType) DataType {
	return DataType{kind: KindArray, elem: &elem}
}

func (t DataType) Kind() Kind {
	return t.kind
}

// Elem возвращает тип элемента массива.
func (t DataType) Elem() (DataType, bool) {
	if t.kind != KindArray || t.elem == nil {
		return DataType{}, false
	}
	return *t.elem, true
}

func (t DataType) Equal(other DataType) bool {
	if t.kind != other.kind || t.length != other.length || t.precision != other.precision || t.scale != other.scale {
		return false
	}
	if t.elem == nil || other.elem == nil {
		return t.elem == nil && other.elem == nil
	}
	return t.elem.Equal(*other.elem)
}

func (t DataType) isInteger() bool {
	switch t.kind {
	case KindInteger, KindBigInt, KindSmallInt:
		return true
	}
	return false
}

func (t DataType) validate() error {
	switch t.kind {
	case KindInteger, KindBigInt, KindSmallInt, KindText, KindBoolean, KindDate,
		KindTimestamp, KindTimestampTZ, KindUUID, KindJSON, KindDouble:
		return nil
	case KindVarchar:
		if t.length < 0 {
			return fmt.Errorf("varchar length must not be negative: %d", t.length)
		}
		return nil
	case KindNumeric:
		if t.precision < 0 || t.scale < 0 || (t.precision > 0 && t.scale > t.precision) {
			return fmt.Errorf("invalid numeric(%d, %d)", t.precision, t.scale)
		}
		return nil
	case KindArray:
		if t.elem == nil {
			return fmt.Errorf("array type without element type")
		}
		return t.elem.validate()
	}
	return fmt.Errorf("unknown column type kind %d", t.kind)
}

// keyword возвращает ключевое слово типа в диалекте PostgreSQL.
// Автоинкремент отображается на serial-типы.
func (t DataType) keyword(autoIncrement bool) string {
	switch t.kind {
	case KindInteger:
		if autoIncrement {
			return "serial"
		}
		return "integer"
	case KindBigInt:
		if autoIncrement {
			return "bigserial"
		}
		return "bigint"
	case KindSmallInt:
		if autoIncrement {
			return "smallserial"
		}
		return "smallint"
	case KindVarchar:
		if t.length > 0 {
			return fmt.Sprintf("varchar(%d)", t.length)
		}
		return "varchar"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindTimestampTZ:
		return "timestamptz"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "jsonb"
	case KindNumeric:
		if t.precision > 0 {
			return fmt.Sprintf("numeric(%d, %d)", t.precision, t.scale)
		}
		return "numeric"
	case KindDouble:
		return "double precision"
	case KindArray:
		return t.elem.keyword(false) + "[]"
	}
	return ""
}

func (t DataType) String() string {
	return t.keyword(false)
}
