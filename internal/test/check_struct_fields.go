package test

import (
	"github.com/stretchr/testify/assert"
	"k8s.io/client-go/util/jsonpath"
)

// CheckStructFields asserts that the struct fields referenced by the supplied expectation path,
// have a value equal to the expectation value.
func CheckStructFields(t assert.TestingT, expectations map[string]interface{}, actual interface{}) bool {
	ok := true
	for path, expectedValue := range expectations {
		jp := jsonpath.New(path)
		err := jp.Parse("{" + path + "}")
		if !assert.NoErrorf(t, err, "jsonpath: %v", path) {
			ok = false
			continue
		}
		results, err := jp.FindResults(actual)
		if !assert.NoErrorf(t, err, "jsonpath: %v", path) {
			ok = false
			continue
		}
		if len(results) == 0 || len(results[0]) == 0 {
			ok = assert.Failf(t, "field not found", "jsonpath: %v", path) && ok
			continue
		}
		ok = assert.Equalf(t, expectedValue, results[0][0].Interface(), "jsonpath: %v", path) && ok
	}
	return ok
}
