package gql

import "fmt"

// resolveHeaders merges the client's static default headers with per-call
// overrides. The override layer is applied after the defaults, so for any
// name present in both the override value wins. Values are stringified the
// same way they would be when attached to an outgoing request.
func resolveHeaders(defaults, overrides map[string]interface{}) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for key, value := range defaults {
		merged[key] = headerValue(value)
	}
	for key, value := range overrides {
		merged[key] = headerValue(value)
	}
	return merged
}

func headerValue(value interface{}) string {
	strValue, ok := value.(string)
	if !ok {
		strValue = fmt.Sprintf("%v", value)
	}
	return strValue
}
