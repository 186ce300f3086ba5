package table

// DType is the closed set of column types the kernels understand. The
// kernels dispatch on this tag exhaustively, never on reflection.
const (
	TypeNull = iota // all-null column with no known value type
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeList
)

type DType int

func (self DType) String() string {
	switch self {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

func (self DType) IsNumeric() bool {
	return self == TypeInt || self == TypeFloat
}

// A list element cannot serve as a hash/set member, everything else can
func (self DType) IsHashable() bool {
	return self != TypeList
}
