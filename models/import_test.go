package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCountsAccounting(t *testing.T) {
	counts := StatusCounts{
		Total:                 10,
		Success:               4,
		Failure:               2,
		Pending:               2,
		Processing:            1,
		PendingReconciliation: 1,
	}

	assert.Equal(t, int64(7), counts.Processed(), "parked rows hold a provisional outcome and count as processed")
	assert.Equal(t, int64(3), counts.Remaining())
	assert.Equal(t, counts.Total, counts.Processed()+counts.Remaining())
}

func TestStatusCountsEmpty(t *testing.T) {
	var counts StatusCounts
	assert.Equal(t, int64(0), counts.Processed())
	assert.Equal(t, int64(0), counts.Remaining())
}
