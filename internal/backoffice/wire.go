package backoffice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// amount is a whole-cent value carried on the wire as a shilling amount with
// up to two decimals. Responses may encode it as a JSON number or string.
type amount int64

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.New(int64(a), -2).StringFixed(2)), nil
}

func (a *amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*a = amount(value.Shift(2).Round(0).IntPart())
	return nil
}

// looseString accepts a JSON string or number. Back-office responses are not
// consistent about ids and result codes.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(trimmed))
	}
	*s = looseString(number.String())
	return nil
}

func (s looseString) String() string {
	return string(s)
}
