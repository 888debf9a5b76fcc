package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CustomTime хранит время в UTC независимо от часового пояса соединения.
type CustomTime struct {
	time.Time
}

func NewCustomTime(t time.Time) CustomTime {
	return CustomTime{Time: t.UTC()}
}

func (c CustomTime) Value() (driver.Value, error) {
	return c.Time.UTC(), nil
}

func (c *CustomTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*c = CustomTime{}
	case time.Time:
		*c = CustomTime{Time: v.UTC()}
	case int64:
		*c = CustomTime{Time: time.Unix(v, 0).UTC()}
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("can not scan %T into CustomTime", value)
	}
	return nil
}

func (c *CustomTime) parse(value string) error {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return err
	}
	*c = CustomTime{Time: parsed.UTC()}
	return nil
}
