// Package discover turns stored filter definitions into TMDB discover
// queries, fans out multi-region requests, and merges the pages back into a
// single ranked result.
package discover

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/media-curator/internal/store"
)

// Translation is the outcome of mapping one filter set. Remote holds one
// parameter set per fan-out combination; Local carries the conditions that
// only the local rating tables can answer.
type Translation struct {
	Remote []url.Values
	Local  []store.FilterCondition
}

// LocalOnly reports whether nothing in the filter set needs the remote API.
func (t Translation) LocalOnly() bool {
	if len(t.Local) == 0 {
		return false
	}
	for _, params := range t.Remote {
		if len(params) > 0 {
			return false
		}
	}
	return true
}

// Translate maps filter conditions onto discover parameters. List values
// join with "," when the operator is and, "|" when or. Multi-value
// watch_region and language conditions cannot be expressed in one request,
// so the translation carries one parameter set per combination.
func Translate(mt store.MediaType, conds []store.FilterCondition, op store.FilterOperator) (Translation, error) {
	sep := ","
	if op == store.FilterOr {
		sep = "|"
	}

	base := url.Values{}
	var local []store.FilterCondition
	var regions, languages []string

	for _, c := range conds {
		vals, err := valueStrings(c.Value)
		if err != nil {
			return Translation{}, fmt.Errorf("filter %q: %w", c.Field, err)
		}
		if len(vals) == 0 {
			continue
		}
		switch c.Field {
		case "imdb_rating", "imdb_votes":
			local = append(local, c)
		case "genres", "with_genres":
			base.Set("with_genres", strings.Join(vals, sep))
		case "keywords", "with_keywords":
			base.Set("with_keywords", strings.Join(vals, sep))
		case "watch_providers", "with_watch_providers":
			base.Set("with_watch_providers", strings.Join(vals, sep))
		case "watch_monetization_types":
			base.Set("with_watch_monetization_types", strings.Join(vals, sep))
		case "rating", "vote_average":
			if err := setRange(base, "vote_average", c.Operator, vals[0]); err != nil {
				return Translation{}, err
			}
		case "votes", "vote_count":
			if err := setRange(base, "vote_count", c.Operator, vals[0]); err != nil {
				return Translation{}, err
			}
		case "runtime", "with_runtime":
			if err := setRange(base, "with_runtime", c.Operator, vals[0]); err != nil {
				return Translation{}, err
			}
		case "release_date", "air_date":
			key := "primary_release_date"
			if mt == store.MediaTV {
				key = "first_air_date"
			}
			if err := setRange(base, key, c.Operator, vals[0]); err != nil {
				return Translation{}, err
			}
		case "year":
			if mt == store.MediaTV {
				base.Set("first_air_date_year", vals[0])
			} else {
				base.Set("primary_release_year", vals[0])
			}
		case "language", "with_original_language":
			languages = vals
		case "watch_region":
			regions = vals
		default:
			return Translation{}, fmt.Errorf("unsupported filter field %q", c.Field)
		}
	}

	// Cartesian fan-out over regions and languages. A single value folds
	// back into one query; two regions and one language yield exactly two.
	if len(regions) == 0 {
		regions = []string{""}
	}
	if len(languages) == 0 {
		languages = []string{""}
	}
	var remote []url.Values
	for _, region := range regions {
		for _, lang := range languages {
			params := url.Values{}
			for k, v := range base {
				params[k] = append([]string(nil), v...)
			}
			if region != "" {
				params.Set("watch_region", region)
			}
			if lang != "" {
				params.Set("with_original_language", lang)
			}
			remote = append(remote, params)
		}
	}
	return Translation{Remote: remote, Local: local}, nil
}

// setRange maps a gte/lte condition to TMDB's compound "<key>.gte" form.
func setRange(params url.Values, key, op, val string) error {
	switch op {
	case "gte", "lte":
		params.Set(key+"."+op, val)
		return nil
	default:
		return fmt.Errorf("field %s: unsupported operator %q", key, op)
	}
}

func valueStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			vals, err := valueStrings(e)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}, nil
	case int:
		return []string{strconv.Itoa(x)}, nil
	case bool:
		return []string{strconv.FormatBool(x)}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
