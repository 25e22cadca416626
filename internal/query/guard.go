package query

import (
	"fmt"
	"regexp"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

// Guard optionally restricts fragments before they reach the builders.
// The zero value accepts everything, which keeps fragments as raw passthrough.
type Guard struct {
	Enabled bool
}

const maxFragmentLen = 500

var (
	safeIdentPattern     = regexp.MustCompile(`^[\w\.\,\s\*"]+$`)
	safePredicatePattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\-\%\*]+$`)
	forbiddenToken       = regexp.MustCompile(`(?i)(;|--|/\*|\*/|\b(insert|update|delete|drop|alter|create|grant|revoke|truncate|copy)\b)`)
)

// CheckFeature validates the fragments of a JSON feature request.
func (g Guard) CheckFeature(q model.FeatureQueryRequest) error {
	if !g.Enabled {
		return nil
	}
	if err := checkIdent("tables", q.Tables); err != nil {
		return err
	}
	if err := checkIdent("columns", q.Columns); err != nil {
		return err
	}
	return checkPredicate("filter", q.Filter)
}

// CheckTile validates the fragments of an MVT request.
func (g Guard) CheckTile(q model.TileRequest) error {
	if !g.Enabled {
		return nil
	}
	if err := checkIdent("table", q.Table); err != nil {
		return err
	}
	if err := checkIdent("geom_column", q.GeomColumn); err != nil {
		return err
	}
	if !q.Columns.IsEmpty() {
		if err := checkIdent("columns", q.Columns); err != nil {
			return err
		}
	}
	return checkPredicate("filter", q.Filter)
}

func checkIdent(name string, f model.Fragment) error {
	s := f.String()
	if len(s) > maxFragmentLen || !safeIdentPattern.MatchString(s) || forbiddenToken.MatchString(s) {
		return fmt.Errorf("invalid or disallowed %s", name)
	}
	return nil
}

func checkPredicate(name string, f model.Fragment) error {
	if f.IsEmpty() {
		return nil
	}
	s := f.String()
	if len(s) > maxFragmentLen || !safePredicatePattern.MatchString(s) || forbiddenToken.MatchString(s) {
		return fmt.Errorf("invalid or disallowed %s", name)
	}
	return nil
}
