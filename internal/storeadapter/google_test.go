package storeadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitReceiptToken(t *testing.T) {
	productID, token, err := splitReceiptToken("monthly_plan:abcd1234")
	assert.NoError(t, err)
	assert.Equal(t, "monthly_plan", productID)
	assert.Equal(t, "abcd1234", token)
}

func TestSplitReceiptToken_RejectsMissingSeparator(t *testing.T) {
	_, _, err := splitReceiptToken("no-separator-here")
	assert.Error(t, err)
}

func TestSplitReceiptToken_SplitsOnFirstColonOnly(t *testing.T) {
	productID, token, err := splitReceiptToken("plan:token:with:colons")
	assert.NoError(t, err)
	assert.Equal(t, "plan", productID)
	assert.Equal(t, "token:with:colons", token)
}
