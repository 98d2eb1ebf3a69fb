package ledger

import (
	"fmt"
	"strings"
	"time"

	"moneta/internal/core"
)

// Field names a queryable, orderable or updatable record attribute.
type Field string

const (
	FieldID         Field = "id"
	FieldTitle      Field = "title"
	FieldCategory   Field = "category"
	FieldType       Field = "type"
	FieldDate       Field = "date"
	FieldCreatedAt  Field = "createdAt"
	FieldLimit      Field = "limit"
	FieldSpent      Field = "spent"
	FieldCreateDate Field = "createDate"
	FieldName       Field = "name"
	FieldAmount     Field = "amount"
	FieldDueDate    Field = "dueDate"
)

// Order selects the sort field; the zero Order means the collection default.
type Order struct {
	Field      Field
	Descending bool
}

// Kind is the storage representation of a column value.
type Kind int

const (
	KindText  Kind = iota // string
	KindMoney             // int64 cents
	KindDate              // "YYYY-MM-DD" string
	KindType              // transaction type string
	KindTime              // UTC time.Time
)

type Column[T any] struct {
	Name      string // storage column name
	Kind      Kind
	Get       func(T) any
	Set       func(*T, any) // nil when not updatable
	Queryable bool
}

// Schema describes how a collection maps onto storage. All backends share it
// so field rules are identical everywhere.
type Schema[T any] struct {
	Collection   string
	Columns      map[Field]Column[T]
	DefaultOrder Order
	Versioned    bool // updates bump a version column
}

func (s Schema[T]) column(f Field) (Column[T], error) {
	c, ok := s.Columns[f]
	if !ok {
		return Column[T]{}, fmt.Errorf("%w: unknown field %q on %s", core.ErrValidation, f, s.Collection)
	}
	return c, nil
}

// Filter resolves an equality filter into its column and encoded value.
func (s Schema[T]) Filter(f Field, value any) (Column[T], any, error) {
	c, err := s.column(f)
	if err != nil {
		return c, nil, err
	}
	if !c.Queryable {
		return c, nil, fmt.Errorf("%w: field %q is not queryable", core.ErrValidation, f)
	}
	v, err := Encode(c.Kind, value)
	return c, v, err
}

// Update resolves a field write into its column and encoded value.
func (s Schema[T]) Update(f Field, value any) (Column[T], any, error) {
	c, err := s.column(f)
	if err != nil {
		return c, nil, err
	}
	if c.Set == nil {
		return c, nil, fmt.Errorf("%w: field %q is immutable", core.ErrValidation, f)
	}
	v, err := Encode(c.Kind, value)
	if err != nil {
		return c, nil, err
	}
	if c.Kind == KindMoney {
		if err := (core.Money{Cents: v.(int64)}).Validate(); err != nil {
			return c, nil, err
		}
	}
	return c, v, nil
}

// OrderBy resolves o, falling back to the default order.
func (s Schema[T]) OrderBy(o Order) (Column[T], Order, error) {
	if o.Field == "" {
		o = s.DefaultOrder
	}
	c, err := s.column(o.Field)
	return c, o, err
}

// Less builds an in-memory comparator for o, breaking ties on id.
func (s Schema[T]) Less(o Order) (func(a, b T) bool, error) {
	c, o, err := s.OrderBy(o)
	if err != nil {
		return nil, err
	}
	id := s.Columns[FieldID]
	return func(a, b T) bool {
		cmp := compare(c.Get(a), c.Get(b))
		if cmp == 0 {
			return compare(id.Get(a), id.Get(b)) < 0
		}
		if o.Descending {
			return cmp > 0
		}
		return cmp < 0
	}, nil
}

// Encode converts a caller-supplied value into the storage representation of kind.
func Encode(kind Kind, value any) (any, error) {
	switch kind {
	case KindText:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case KindMoney:
		switch v := value.(type) {
		case core.Money:
			return v.Cents, nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case string:
			return core.ParseDecimalToCents(v)
		}
	case KindDate:
		switch v := value.(type) {
		case core.Date:
			return v.String(), v.Validate()
		case time.Time:
			return core.DateOf(v).String(), nil
		case string:
			d, err := core.ParseDate(v)
			return d.String(), err
		}
	case KindType:
		var raw string
		switch v := value.(type) {
		case core.TransactionType:
			raw = string(v)
		case string:
			raw = v
		default:
			return nil, fmt.Errorf("%w: unsupported value %T", core.ErrValidation, value)
		}
		t, err := core.ParseTransactionType(raw)
		return string(t), err
	case KindTime:
		if v, ok := value.(time.Time); ok {
			return v.UTC(), nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported value %T", core.ErrValidation, value)
}

func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

// TransactionSchema: transactions are immutable once written.
var TransactionSchema = Schema[core.Transaction]{
	Collection:   "transactions",
	DefaultOrder: Order{Field: FieldDate, Descending: true},
	Columns: map[Field]Column[core.Transaction]{
		FieldID:        {Name: "id", Kind: KindText, Queryable: true, Get: func(t core.Transaction) any { return t.ID }},
		FieldTitle:     {Name: "title", Kind: KindText, Queryable: true, Get: func(t core.Transaction) any { return t.Title }},
		FieldCategory:  {Name: "category", Kind: KindText, Queryable: true, Get: func(t core.Transaction) any { return t.Category }},
		FieldType:      {Name: "tx_type", Kind: KindType, Queryable: true, Get: func(t core.Transaction) any { return string(t.Type) }},
		FieldDate:      {Name: "tx_date", Kind: KindDate, Queryable: true, Get: func(t core.Transaction) any { return t.Date.String() }},
		FieldAmount:    {Name: "amount_cents", Kind: KindMoney, Get: func(t core.Transaction) any { return t.Amount.Cents }},
		FieldCreatedAt: {Name: "created_at", Kind: KindTime, Get: func(t core.Transaction) any { return t.CreatedAt.UTC() }},
	},
}

// BudgetSchema: only limit is user-editable; spent moves through IncrementSpent.
// The default order is oldest first, which decides the "first match" when
// several budgets share a category.
var BudgetSchema = Schema[core.Budget]{
	Collection:   "budgets",
	DefaultOrder: Order{Field: FieldCreateDate},
	Versioned:    true,
	Columns: map[Field]Column[core.Budget]{
		FieldID:       {Name: "id", Kind: KindText, Queryable: true, Get: func(b core.Budget) any { return b.ID }},
		FieldCategory: {Name: "category", Kind: KindText, Queryable: true, Get: func(b core.Budget) any { return b.Category }},
		FieldLimit: {
			Name: "limit_cents", Kind: KindMoney,
			Get: func(b core.Budget) any { return b.Limit.Cents },
			Set: func(b *core.Budget, v any) { b.Limit = core.Money{Cents: v.(int64)} },
		},
		FieldSpent:      {Name: "spent_cents", Kind: KindMoney, Get: func(b core.Budget) any { return b.Spent.Cents }},
		FieldCreateDate: {Name: "create_date", Kind: KindTime, Get: func(b core.Budget) any { return b.CreateDate.UTC() }},
	},
}

var BillSchema = Schema[core.Bill]{
	Collection:   "bills",
	DefaultOrder: Order{Field: FieldCreateDate, Descending: true},
	Columns: map[Field]Column[core.Bill]{
		FieldID:         {Name: "id", Kind: KindText, Queryable: true, Get: func(b core.Bill) any { return b.ID }},
		FieldName:       {Name: "name", Kind: KindText, Queryable: true, Get: func(b core.Bill) any { return b.Name }},
		FieldAmount:     {Name: "amount_cents", Kind: KindMoney, Get: func(b core.Bill) any { return b.Amount.Cents }},
		FieldDueDate:    {Name: "due_date", Kind: KindDate, Queryable: true, Get: func(b core.Bill) any { return b.DueDate.String() }},
		FieldCreateDate: {Name: "create_date", Kind: KindTime, Get: func(b core.Bill) any { return b.CreateDate.UTC() }},
	},
}
