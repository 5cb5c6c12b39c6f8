package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	attr := Err(errors.New("connection refused"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "connection refused", attr.Value.String())
}

func TestAccountID(t *testing.T) {
	attr := AccountID("8b6c1dc2-0000-0000-0000-000000000001")
	assert.Equal(t, "account_id", attr.Key)
	assert.Equal(t, "8b6c1dc2-0000-0000-0000-000000000001", attr.Value.String())
}
