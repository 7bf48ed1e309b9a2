package storetest

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
)

// taskCmp compares task records across a persistence round trip: IDs by
// their string form, empty and nil collections as equal.
var taskCmp = cmp.Options{
	cmp.Comparer(func(a, b id.ID) bool { return a.String() == b.String() }),
	cmpopts.EquateEmpty(),
	cmpopts.IgnoreFields(stepflow.Entity{}, "UpdatedAt"),
}
