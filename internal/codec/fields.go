package codec

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var errEmpty = errors.New("empty")

// fields accumulates the first conversion error of a record so record
// builders can read straight through and check once at the end.
type fields struct {
	err error
}

func (f *fields) fail(name string, err error) {
	if f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
}

func (f *fields) str(name, s string) string {
	if s == "" {
		f.fail(name, errEmpty)
	}
	return s
}

func (f *fields) decimal(name, s string) decimal.Decimal {
	if s == "" {
		f.fail(name, errEmpty)
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f.fail(name, err)
		return decimal.Zero
	}
	return d
}

func (f *fields) optDecimal(name, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return f.decimal(name, s)
}

func (f *fields) millis(name, s string) time.Time {
	if s == "" {
		f.fail(name, errEmpty)
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.fail(name, err)
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (f *fields) optMillis(name, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	return f.millis(name, s)
}

func (f *fields) optInt(name, s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.fail(name, err)
	}
	return n
}
