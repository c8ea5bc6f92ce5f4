package mapconfig

// Kind is the backend kind of a layer. The set is closed.
type Kind int

const (
	KindMapnik Kind = iota
	KindHTTP
	KindTorque
	KindPlain
)

var kindNames = [...]string{
	KindMapnik: "mapnik",
	KindHTTP:   "http",
	KindTorque: "torque",
	KindPlain:  "plain",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a layer "type" value to its Kind. "cartodb" is accepted as
// a legacy name for mapnik layers.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "mapnik", "cartodb":
		return KindMapnik, true
	case "http":
		return KindHTTP, true
	case "torque":
		return KindTorque, true
	case "plain":
		return KindPlain, true
	}
	return 0, false
}
