package bundler

import "strings"

// Category is a bundler send/receipt failure classification.
type Category string

const (
	CategoryRateLimit  Category = "rate_limit"
	CategoryRetryable  Category = "retryable"
	CategoryUnderpriced Category = "underpriced"
	CategoryValidation Category = "validation"
	CategoryFatal      Category = "fatal"
)

// classifierRule pairs a category with the case-insensitive substrings that
// trigger it and whether that category is eligible for failover to a
// secondary provider.
type classifierRule struct {
	category  Category
	triggers  []string
	failover  bool
}

var classifierRules = []classifierRule{
	{CategoryRateLimit, []string{"429", "rate limit", "too many requests"}, true},
	{CategoryRetryable, []string{"timeout", "timed out", "econnreset", "5xx", "network"}, true},
	{CategoryUnderpriced, []string{"underpriced", "fee too low", "max fee"}, false},
	{CategoryValidation, []string{"aa1", "aa2", "aa3", "simulatevalidation", "invalid signature", "insufficient prefund", "paymaster"}, false},
}

// Classify maps an error message to a Category. Anything matching none of
// the known rules is fatal.
func Classify(err error) Category {
	if err == nil {
		return CategoryFatal
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(msg, trigger) {
				return rule.category
			}
		}
	}
	return CategoryFatal
}

// FailoverEligible reports whether a failure of this category should trigger
// a send attempt against the secondary provider.
func FailoverEligible(c Category) bool {
	for _, rule := range classifierRules {
		if rule.category == c {
			return rule.failover
		}
	}
	return false
}
