package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryduck/queryduck-go/pkg/qderr"
)

func TestTransactionRow_JSON(t *testing.T) {
	h := uuid.MustParse("0b6d1c3e-4f5a-4b7c-8d9e-a1b2c3d4e5f6")
	rows := []TransactionRow{
		{Triple: [3]Operand{Pending(0), Resolved("s:" + h.String()), Resolved("str:hello")}},
		{Handle: &h, Triple: [3]Operand{Pending(1), Pending(0), Resolved("int:3")}},
	}

	data, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		[null, 0, "s:`+h.String()+`", "str:hello"],
		["s:`+h.String()+`", 1, 0, "int:3"]
	]`, string(data))

	var back []TransactionRow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rows, back)
}

func TestTransactionRow_WithoutHandleSlot(t *testing.T) {
	var row TransactionRow
	require.NoError(t, json.Unmarshal([]byte(`[0, "s:0b6d1c3e-4f5a-4b7c-8d9e-a1b2c3d4e5f6", "bool:True"]`), &row))

	assert.Nil(t, row.Handle)
	idx, pending := row.Triple[0].Index()
	assert.True(t, pending)
	assert.Equal(t, 0, idx)
	s, ok := row.Triple[2].Serialized()
	assert.True(t, ok)
	assert.Equal(t, "bool:True", s)
}

func TestTransactionRow_Invalid(t *testing.T) {
	inputs := []string{
		`[1, 2]`,
		`{"s": 1}`,
		`["int:1", 0, 0, 0]`,
		`[null, -1, "str:x", "str:y"]`,
		`[null, true, "str:x", "str:y"]`,
	}
	for _, in := range inputs {
		var row TransactionRow
		err := json.Unmarshal([]byte(in), &row)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, qderr.ErrProtocol), "%s: got %v", in, err)
	}
}

func TestQueryResponse_OptionalFields(t *testing.T) {
	var resp QueryResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"statements": {"s:a": ["s:a", "s:b", "str:c"]},
		"references": ["s:a"],
		"more": true
	}`), &resp))

	assert.True(t, resp.More)
	assert.Nil(t, resp.Files)
	assert.Nil(t, resp.After)
	assert.Equal(t, [3]string{"s:a", "s:b", "str:c"}, resp.Statements["s:a"])
}
