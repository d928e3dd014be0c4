package validate

import (
	"time"

	"github.com/dop251/goja"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
)

// expressionTimeout caps one predicate evaluation.
const expressionTimeout = 100 * time.Millisecond

// checkExpression evaluates a JavaScript predicate against the field
// value. The script sees `value` and `doc` and must yield a truthy
// result to pass. Runaway scripts are interrupted after 100ms and
// count as failures.
func checkExpression(value interface{}, doc map[string]interface{}, v model.Validator) (bool, string) {
	vm := goja.New()
	if err := vm.Set("value", value); err != nil {
		return false, "expression setup failed"
	}
	if err := vm.Set("doc", doc); err != nil {
		return false, "expression setup failed"
	}

	timer := time.AfterFunc(expressionTimeout, func() {
		vm.Interrupt("expression timed out")
	})
	defer timer.Stop()

	result, err := vm.RunString(v.Expr)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			common.Logger.WithField("expr", v.Expr).Warn("validation expression timed out")
			return false, "expression timed out"
		}
		common.Logger.WithError(err).WithField("expr", v.Expr).Warn("validation expression failed")
		return false, "expression error"
	}

	if result == nil || !result.ToBoolean() {
		return false, "expression evaluated to false"
	}
	return true, ""
}
