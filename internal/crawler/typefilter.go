package crawler

// DefaultDenyTypes are object types that are not supernovae.
var DefaultDenyTypes = []string{
	"Afterglow",
	"LBV",
	"ILRT",
	"Nova",
	"CV",
	"Varstar",
	"AGN",
	"Galaxy",
	"QSO",
	"Std-spec",
	"Gap",
	"Gap I",
	"Gap II",
	"SN impostor",
	"TDE",
	"WR",
	"WR-WN",
	"WR-WC",
	"WR-WO",
	"Other",
}

// TypeDecision is the verdict of a TypeFilter.
type TypeDecision int

// Type decisions.
const (
	TypeTarget TypeDecision = iota
	// TypeUnspecified is a target whose type cell was empty.
	TypeUnspecified
	// TypeDenied is on the deny-list and is remembered in the registry.
	TypeDenied
	// TypeNotAllowed is missing from an explicit allow-list.
	TypeNotAllowed
)

// Excluded reports whether the event should be skipped.
func (d TypeDecision) Excluded() bool {
	return d == TypeDenied || d == TypeNotAllowed
}

// TypeFilter applies either an allow-list or a deny-list, never both.
type TypeFilter struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewTypeFilter builds a filter. A non-empty allow list is exclusive and
// the deny list is ignored.
func NewTypeFilter(allow, deny []string) TypeFilter {
	f := TypeFilter{}
	if len(allow) > 0 {
		f.allow = toSet(allow)
		return f
	}
	f.deny = toSet(deny)
	return f
}

// Decide classifies an object type. An empty type is always a target.
func (f TypeFilter) Decide(objType string) TypeDecision {
	if objType == "" {
		return TypeUnspecified
	}
	if f.allow != nil {
		if _, ok := f.allow[objType]; ok {
			return TypeTarget
		}
		return TypeNotAllowed
	}
	if _, ok := f.deny[objType]; ok {
		return TypeDenied
	}
	return TypeTarget
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
