package chainstate

// RecursiveMerge implements the account-update merge semantics: for each
// key in source, if both sides are arrays the result is the set-union
// preserving target order then new entries; if both sides are non-array
// objects, recurse; otherwise the source value replaces the target value.
func RecursiveMerge(target, source map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(target))
	for k, v := range target {
		result[k] = v
	}

	for k, sourceVal := range source {
		targetVal, exists := result[k]
		if !exists {
			result[k] = sourceVal
			continue
		}

		targetArr, targetIsArr := targetVal.([]interface{})
		sourceArr, sourceIsArr := sourceVal.([]interface{})
		if targetIsArr && sourceIsArr {
			result[k] = mergeArrays(targetArr, sourceArr)
			continue
		}

		targetObj, targetIsObj := targetVal.(map[string]interface{})
		sourceObj, sourceIsObj := sourceVal.(map[string]interface{})
		if targetIsObj && sourceIsObj {
			result[k] = RecursiveMerge(targetObj, sourceObj)
			continue
		}

		result[k] = sourceVal
	}

	return result
}

// mergeArrays returns the set-union of two slices: target's elements in
// their original order, followed by any of source's elements not already
// present (by deep equality).
func mergeArrays(target, source []interface{}) []interface{} {
	result := append([]interface{}(nil), target...)
	for _, sourceItem := range source {
		if !containsDeep(result, sourceItem) {
			result = append(result, sourceItem)
		}
	}
	return result
}

func containsDeep(items []interface{}, item interface{}) bool {
	for _, existing := range items {
		if deepEqual(existing, item) {
			return true
		}
	}
	return false
}

func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
