package config

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ClassTable is a validated mapping from object class name to label image value. Values are
// distinct and in [1, 255]; 0 is the background.
type ClassTable struct {
	names  []string
	values map[string]uint8
}

// NewClassTable validates classes and builds a table ordered by value.
func NewClassTable(classes map[string]int) (*ClassTable, error) {
	if len(classes) == 0 {
		return nil, errors.New("class table is empty")
	}
	ct := &ClassTable{values: make(map[string]uint8, len(classes))}
	for name, value := range classes {
		if name == "" {
			return nil, errors.New("class name must not be empty")
		}
		if value < 1 || value > 255 {
			return nil, errors.Errorf("class %q has value %d outside [1, 255]", name, value)
		}
		ct.values[name] = uint8(value)
		ct.names = append(ct.names, name)
	}
	if dups := lo.FindDuplicates(lo.Values(classes)); len(dups) > 0 {
		sort.Ints(dups)
		return nil, errors.Errorf("class values must be distinct, %v used more than once", dups)
	}
	sort.Slice(ct.names, func(i, j int) bool {
		return ct.values[ct.names[i]] < ct.values[ct.names[j]]
	})
	return ct, nil
}

// Value returns the label value of a class.
func (ct *ClassTable) Value(class string) (uint8, bool) {
	v, ok := ct.values[class]
	return v, ok
}

// Class returns the class painted with value.
func (ct *ClassTable) Class(value uint8) (string, bool) {
	return lo.FindKey(ct.values, value)
}

// Names returns the class names ordered by value.
func (ct *ClassTable) Names() []string {
	return append([]string(nil), ct.names...)
}

// Len returns the number of classes.
func (ct *ClassTable) Len() int {
	return len(ct.names)
}
