package client

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	dErrors "cargolink/pkg/domain-errors"
)

// wvPattern is the "{weight}-{volume}" filter, decimals allowed.
var wvPattern = regexp.MustCompile(`^\d+(\.\d+)?-\d+(\.\d+)?$`)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	dateLayout       = "2006-01-02"
)

// List modes accepted by the upstream views endpoint.
const (
	ModeAll       = "all"
	ModeFavorites = "favorites"
	ModeMine      = "my"
)

// ListQuery is a validated filter for the cargo list endpoint.
type ListQuery struct {
	Mode       string `validate:"required,oneof=all favorites my"`
	FromPoint  int64  `validate:"omitempty,gt=0"`
	ToPoint    int64  `validate:"omitempty,gt=0"`
	FromRadius int    `validate:"omitempty,min=1,max=500,excluded_without=FromPoint"`
	ToRadius   int    `validate:"omitempty,min=1,max=500,excluded_without=ToPoint"`
	DateFrom   string `validate:"omitempty,datetime=2006-01-02"`
	DateTo     string `validate:"omitempty,datetime=2006-01-02"`
	WV         string `validate:"omitempty,wv"`
	Limit      int    `validate:"min=1,max=100"`
	Offset     int    `validate:"min=0"`
}

type fieldSetter func(q *ListQuery, raw string) error

var listFields = map[string]fieldSetter{
	"mode":        func(q *ListQuery, raw string) error { q.Mode = strings.ToLower(raw); return nil },
	"from_point":  func(q *ListQuery, raw string) error { return parseInt64(raw, &q.FromPoint) },
	"to_point":    func(q *ListQuery, raw string) error { return parseInt64(raw, &q.ToPoint) },
	"from_radius": func(q *ListQuery, raw string) error { return parseInt(raw, &q.FromRadius) },
	"to_radius":   func(q *ListQuery, raw string) error { return parseInt(raw, &q.ToRadius) },
	"date_from":   func(q *ListQuery, raw string) error { q.DateFrom = raw; return nil },
	"date_to":     func(q *ListQuery, raw string) error { q.DateTo = raw; return nil },
	"wv":          func(q *ListQuery, raw string) error { q.WV = raw; return nil },
	"limit":       func(q *ListQuery, raw string) error { return parseInt(raw, &q.Limit) },
	"offset":      func(q *ListQuery, raw string) error { return parseInt(raw, &q.Offset) },
}

// AllowedListParams returns the accepted filter keys, sorted.
func AllowedListParams() []string {
	keys := make([]string, 0, len(listFields))
	for k := range listFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func queryValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("wv", func(fl validator.FieldLevel) bool {
			return wvPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// NewListQuery builds a ListQuery from raw filter parameters. Unknown keys,
// unparseable numbers and out-of-range values are rejected with a
// validation error; absent keys take defaults (mode=all, limit=20).
func NewListQuery(params map[string]string) (ListQuery, error) {
	q := ListQuery{Mode: ModeAll, Limit: DefaultListLimit}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		set, ok := listFields[key]
		if !ok {
			return ListQuery{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown filter %q", key))
		}
		raw := strings.TrimSpace(params[key])
		if raw == "" {
			continue
		}
		if err := set(&q, raw); err != nil {
			return ListQuery{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("filter %q: %v", key, err))
		}
	}

	if err := q.Validate(); err != nil {
		return ListQuery{}, err
	}
	return q, nil
}

// Validate checks field rules and the date range.
func (q ListQuery) Validate() error {
	if err := queryValidator().Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("filter %s failed %s", paramName(fe.Field()), fe.Tag()))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid filter")
	}
	if q.DateFrom != "" && q.DateTo != "" {
		from, _ := time.Parse(dateLayout, q.DateFrom)
		to, _ := time.Parse(dateLayout, q.DateTo)
		if to.Before(from) {
			return dErrors.New(dErrors.CodeValidation, "date_to is before date_from")
		}
	}
	return nil
}

// Values renders the upstream query string for userID.
func (q ListQuery) Values(userID int64) url.Values {
	v := q.filterValues()
	v.Set("filter[user_id]", strconv.FormatInt(userID, 10))
	v.Set("include", "contacts")
	return v
}

func (q ListQuery) filterValues() url.Values {
	v := url.Values{}
	v.Set("filter[mode]", q.Mode)
	if q.FromPoint > 0 {
		v.Set("filter[from_point]", strconv.FormatInt(q.FromPoint, 10))
	}
	if q.ToPoint > 0 {
		v.Set("filter[to_point]", strconv.FormatInt(q.ToPoint, 10))
	}
	if q.FromRadius > 0 {
		v.Set("filter[from_radius]", strconv.Itoa(q.FromRadius))
	}
	if q.ToRadius > 0 {
		v.Set("filter[to_radius]", strconv.Itoa(q.ToRadius))
	}
	if q.DateFrom != "" {
		v.Set("filter[date_from]", q.DateFrom)
	}
	if q.DateTo != "" {
		v.Set("filter[date_to]", q.DateTo)
	}
	if q.WV != "" {
		v.Set("filter[wv]", q.WV)
	}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	return v
}

// Hash is a stable digest of the filter, independent of parameter order.
func (q ListQuery) Hash() string {
	sum := sha256.Sum256([]byte(q.filterValues().Encode()))
	return hex.EncodeToString(sum[:8])
}

func paramName(field string) string {
	switch field {
	case "FromPoint":
		return "from_point"
	case "ToPoint":
		return "to_point"
	case "FromRadius":
		return "from_radius"
	case "ToRadius":
		return "to_radius"
	case "DateFrom":
		return "date_from"
	case "DateTo":
		return "date_to"
	case "WV":
		return "wv"
	default:
		return strings.ToLower(field)
	}
}

func parseInt(raw string, dst *int) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("not an integer")
	}
	*dst = n
	return nil
}

func parseInt64(raw string, dst *int64) error {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer")
	}
	*dst = n
	return nil
}

// PointQuery is a validated dictionary search.
type PointQuery struct {
	Name string `validate:"required,min=2,max=64"`
}

// NewPointQuery normalizes name (trimmed, lower-cased) and validates it.
func NewPointQuery(name string) (PointQuery, error) {
	q := PointQuery{Name: strings.ToLower(strings.TrimSpace(name))}
	if err := queryValidator().Struct(q); err != nil {
		return PointQuery{}, dErrors.New(dErrors.CodeValidation, "point name must be 2 to 64 characters")
	}
	return q, nil
}
