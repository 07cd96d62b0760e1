package catalog

type ColumnType uint8

const (
	TypeInt8 ColumnType = iota + 1
	TypeString
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// Schema 目录表的逻辑模式，前 KeyCount 列构成主键
type Schema struct {
	Columns  []Column `json:"columns"`
	KeyCount int      `json:"key_count"`
}

// BuildTableSchema 目录表的模式固定为
// (entry_type int8, entry_id string) -> metadata string，
// entry_type 作为首列保证同类条目在扫描时连续
func BuildTableSchema() Schema {
	return Schema{
		Columns: []Column{
			{Name: "entry_type", Type: TypeInt8},
			{Name: "entry_id", Type: TypeString},
			{Name: "metadata", Type: TypeString},
		},
		KeyCount: 2,
	}
}

func (s Schema) Equal(other Schema) bool {
	if s.KeyCount != other.KeyCount || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range s.Columns {
		if col != other.Columns[i] {
			return false
		}
	}
	return true
}
