package storage

import (
	"fmt"
	"regexp"

	"github.com/rl1809/baller-exchange/internal/port"
)

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,63}$`)

func validKind(k port.Kind) bool {
	switch k {
	case port.KindUser, port.KindItem, port.KindTrade:
		return true
	}
	return false
}

func validateQuery(q port.Query) error {
	if !validKind(q.Kind) {
		return fmt.Errorf("query: unknown kind %q", q.Kind)
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("query: invalid order field %q", q.OrderBy)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("query: negative offset or limit")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("query: invalid filter field %q", f.Field)
		}
		switch f.Op {
		case port.FilterEq:
			switch f.Value.(type) {
			case string, int64, int:
			default:
				return fmt.Errorf("query: unsupported value %T for %s", f.Value, f.Field)
			}
		case port.FilterIn:
			if _, ok := f.Value.([]string); !ok {
				return fmt.Errorf("query: in filter on %s needs []string", f.Field)
			}
		case port.FilterPrefix:
			if _, ok := f.Value.(string); !ok {
				return fmt.Errorf("query: prefix filter on %s needs string", f.Field)
			}
		default:
			return fmt.Errorf("query: unknown operator %q", f.Op)
		}
	}
	return nil
}
